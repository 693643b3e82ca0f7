// Package spacesync is an optimistic client-server synchronization engine.
// Clients mutate a shared per-space dataset offline and push batches of
// mutations; the engine applies them authoritatively, exactly once, and
// computes minimal put/delete patches bringing any client replica back to
// authoritative state.
package spacesync

import (
	"bytes"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/cockroachdb/pebble"
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/puzpuzpuz/xsync/v3"

	"github.com/drpcorg/spacesync/sync_errors"
	"github.com/drpcorg/spacesync/utils"
)

type Options struct {
	Logger       utils.Logger
	Pebble       pebble.Options
	WriteOptions *pebble.WriteOptions

	// Registerer, when set, gets the engine metric vecs and a DB collector.
	Registerer prometheus.Registerer

	// Registry maps mutation names to mutators; empty registry means every
	// push is recorded as a no-op.
	Registry *Registry

	SpaceCacheSize int
	MaxIDLen       int
}

func (o *Options) SetDefaults() {
	if o.Logger == nil {
		o.Logger = utils.NewDefaultLogger(slog.LevelInfo)
	}
	if o.WriteOptions == nil {
		o.WriteOptions = pebble.Sync
	}
	if o.Registry == nil {
		o.Registry = NewRegistry()
	}
	if o.SpaceCacheSize == 0 {
		o.SpaceCacheSize = 16384
	}
	if o.MaxIDLen == 0 {
		o.MaxIDLen = 256
	}
}

// Engine is a stateless pair of request handlers (Push, Pull) over one pebble
// database. The only cross-request state is the store itself plus a per-space
// lock map serializing writers; pulls run on snapshots and never take the
// space lock.
type Engine struct {
	db  *pebble.DB
	dir string
	log utils.Logger
	wo  *pebble.WriteOptions
	reg *Registry

	locks  *xsync.MapOf[string, *sync.Mutex]
	spaces *lru.Cache[string, bool]

	opts   Options
	closed bool
	clock  sync.Mutex
}

// Open opens (creating if needed) the engine database in dir.
func Open(dir string, opts Options) (*Engine, error) {
	opts.SetDefaults()

	db, err := pebble.Open(dir, &opts.Pebble)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", sync_errors.ErrStoreUnavailable, err)
	}

	spaces, _ := lru.New[string, bool](opts.SpaceCacheSize)
	e := &Engine{
		db:     db,
		dir:    dir,
		log:    opts.Logger,
		wo:     opts.WriteOptions,
		reg:    opts.Registry,
		locks:  xsync.NewMapOf[string, *sync.Mutex](),
		spaces: spaces,
		opts:   opts,
	}

	if opts.Registerer != nil {
		for _, c := range Collectors() {
			if err := opts.Registerer.Register(c); err != nil {
				already := prometheus.AlreadyRegisteredError{}
				if !errors.As(err, &already) {
					return nil, err
				}
			}
		}
		if err := opts.Registerer.Register(NewDBCollector(db)); err != nil {
			e.log.Warn("db collector registration failed", "err", err)
		}
	}

	e.log.Info("engine open", "dir", dir)
	return e, nil
}

func (e *Engine) Close() error {
	e.clock.Lock()
	defer e.clock.Unlock()
	if e.closed {
		return sync_errors.ErrClosed
	}
	e.closed = true
	return e.db.Close()
}

func (e *Engine) isClosed() bool {
	e.clock.Lock()
	defer e.clock.Unlock()
	return e.closed
}

func (e *Engine) Logger() utils.Logger { return e.log }

func (e *Engine) Database() *pebble.DB { return e.db }

// spaceLock returns the mutex serializing writers of one space. Pushes to
// different spaces never contend.
func (e *Engine) spaceLock(space string) *sync.Mutex {
	lock, _ := e.locks.LoadOrCompute(space, func() *sync.Mutex {
		return &sync.Mutex{}
	})
	return lock
}

// checkID validates an external identifier (space, client, group). IDs are
// opaque but participate in key construction, so NUL is reserved.
func (e *Engine) checkID(id string) error {
	if len(id) == 0 || len(id) > e.opts.MaxIDLen {
		return fmt.Errorf("%w: %q", sync_errors.ErrBadID, id)
	}
	if bytes.IndexByte([]byte(id), 0) >= 0 {
		return fmt.Errorf("%w: %q", sync_errors.ErrBadID, id)
	}
	return nil
}

// Keyspace: one-letter prefixes, space id, NUL, then the scoped suffix.
//
//	S<space>            space marker
//	V<space>            space version counter, 8 bytes BE
//	R<space>\0<key>     domain row, 8 bytes BE version + value
//	C<space>\0<client>  client record
//	G<space>\0<group>   client group view record

func SKey(space string) []byte {
	return append([]byte{'S'}, space...)
}

func VKey(space string) []byte {
	return append([]byte{'V'}, space...)
}

func scopedKey(lit byte, space, suffix string) []byte {
	key := make([]byte, 0, 2+len(space)+len(suffix))
	key = append(key, lit)
	key = append(key, space...)
	key = append(key, 0)
	return append(key, suffix...)
}

func RKey(space, key string) []byte { return scopedKey('R', space, key) }

func CKey(space, client string) []byte { return scopedKey('C', space, client) }

func GKey(space, group string) []byte { return scopedKey('G', space, group) }

// scopedRange bounds every key of one space under one prefix letter. Space
// ids cannot contain NUL, so \x00..\x01 after the id covers exactly the
// scoped suffixes.
func scopedRange(lit byte, space string) (from, till []byte) {
	from = scopedKey(lit, space, "")
	till = make([]byte, len(from))
	copy(till, from)
	till[len(till)-1] = 1
	return
}

// scopedKeySuffix strips the range prefix off an iterator key.
func scopedKeySuffix(prefix, key []byte) string {
	return string(key[len(prefix):])
}
