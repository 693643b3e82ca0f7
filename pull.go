package spacesync

import (
	"context"
	"fmt"
	"sort"
	"time"

	json "github.com/goccy/go-json"

	"github.com/drpcorg/spacesync/protocol"
	"github.com/drpcorg/spacesync/sync_errors"
)

// Pull computes the minimal patch from the client's last-acknowledged view to
// current authoritative state. The whole computation runs on one pebble
// snapshot, so a concurrent push is either entirely visible or entirely
// invisible; the patch can never pair a new value with an old version.
// Deletions are detected by inference: a key the cookie knows that the live
// scan no longer has was deleted since the baseline.
//
// Consecutive pulls with no intervening push return an empty patch and no
// watermark changes.
func (e *Engine) Pull(ctx context.Context, req protocol.PullRequest) (protocol.PullResponse, error) {
	resp := protocol.PullResponse{}
	if e.isClosed() {
		return resp, sync_errors.ErrClosed
	}
	if err := e.checkID(req.SpaceID); err != nil {
		return resp, err
	}
	if err := e.checkID(req.ClientGroupID); err != nil {
		return resp, err
	}

	start := time.Now()
	base, err := protocol.DecodeCookie(req.Cookie)
	if err != nil {
		pullRequests.WithLabelValues("error").Inc()
		return resp, fmt.Errorf("%w: %v", sync_errors.ErrBadCookie, err)
	}

	snap := e.db.NewSnapshot()
	defer snap.Close()

	if ok, err := e.spaceExists(snap, req.SpaceID); err != nil {
		pullRequests.WithLabelValues("error").Inc()
		return resp, err
	} else if !ok {
		pullRequests.WithLabelValues("error").Inc()
		return resp, sync_errors.ErrSpaceUnknown
	}

	// an empty cookie is first contact and creates the group lazily; a
	// non-empty cookie must come from a group this space has seen
	if req.Cookie != "" {
		_, ok, err := readerGet(snap, GKey(req.SpaceID, req.ClientGroupID))
		if err != nil {
			pullRequests.WithLabelValues("error").Inc()
			return resp, err
		}
		if !ok {
			pullRequests.WithLabelValues("error").Inc()
			return resp, sync_errors.ErrClientGroupUnknown
		}
	}

	version, err := currentVersion(snap, req.SpaceID)
	if err != nil {
		pullRequests.WithLabelValues("error").Inc()
		return resp, err
	}

	next := &protocol.ViewRecord{
		Version: version,
		Keys:    make(map[string]uint64),
		Clients: make(map[string]uint64),
	}
	var patch []protocol.PatchOp

	err = scanRows(snap, req.SpaceID, func(key string, ver uint64, value []byte) error {
		if cerr := ctx.Err(); cerr != nil {
			return cerr
		}
		next.Keys[key] = ver
		if seen, ok := base.Keys[key]; !ok || seen != ver {
			patch = append(patch, protocol.PatchOp{
				Op:    protocol.OpPut,
				Key:   key,
				Value: json.RawMessage(append([]byte(nil), value...)),
			})
		}
		return nil
	})
	if err != nil {
		pullRequests.WithLabelValues("error").Inc()
		return resp, err
	}

	gone := make([]string, 0)
	for key := range base.Keys {
		if _, live := next.Keys[key]; !live {
			gone = append(gone, key)
		}
	}
	sort.Strings(gone)
	for _, key := range gone {
		patch = append(patch, protocol.PatchOp{Op: protocol.OpDel, Key: key})
	}

	changes := make(map[string]uint64)
	err = scanClients(snap, req.SpaceID, func(client string, rec *clientRecord) error {
		if rec.group != req.ClientGroupID {
			return nil
		}
		next.Clients[client] = rec.last
		if base.Clients[client] != rec.last {
			changes[client] = rec.last
		}
		return nil
	})
	if err != nil {
		pullRequests.WithLabelValues("error").Inc()
		return resp, err
	}

	// replace, never merge, the group's stored view record
	if err := e.db.Set(GKey(req.SpaceID, req.ClientGroupID), next.Bytes(), e.wo); err != nil {
		pullRequests.WithLabelValues("error").Inc()
		return resp, wrapStore(err)
	}

	pullRequests.WithLabelValues("ok").Inc()
	pullPatchSize.Observe(float64(len(patch)))
	pullDuration.Observe(time.Since(start).Seconds())
	e.log.DebugCtx(ctx, "pull", "space", req.SpaceID, "group", req.ClientGroupID,
		"patch", len(patch), "version", version)

	resp.Cookie = next.EncodeCookie()
	resp.LastMutationIDChanges = changes
	resp.Patch = patch
	return resp, nil
}
