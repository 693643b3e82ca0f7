package spacesync

import (
	"context"
	"fmt"
	"time"

	"github.com/drpcorg/spacesync/protocol"
	"github.com/drpcorg/spacesync/sync_errors"
)

// Push applies a batch of client mutations to a space, each exactly once, in
// submitted order. Already-applied mutations (id at or below the client's
// watermark) are skipped, which makes retrying a whole batch safe. A sequence
// gap aborts the batch: mutations applied before the gap stay committed, the
// gap and everything after it is rejected, and callers must treat the
// returned ErrSequenceGap as "resubmit the tail or reset the client".
func (e *Engine) Push(ctx context.Context, req protocol.PushRequest) (protocol.PushResponse, error) {
	resp := protocol.PushResponse{}
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
	lock := e.spaceLock(req.SpaceID)
	lock.Lock()
	defer lock.Unlock()

	if ok, err := e.spaceExists(e.db, req.SpaceID); err != nil {
		pushRequests.WithLabelValues("error").Inc()
		return resp, err
	} else if !ok {
		pushRequests.WithLabelValues("error").Inc()
		return resp, sync_errors.ErrSpaceUnknown
	}

	batch := e.db.NewIndexedBatch()
	defer batch.Close()

	version, err := currentVersion(batch, req.SpaceID)
	if err != nil {
		pushRequests.WithLabelValues("error").Inc()
		return resp, err
	}

	clients := make(map[string]*clientRecord)
	var pushErr error

	for _, m := range req.Mutations {
		if err := ctx.Err(); err != nil {
			pushErr = err
			break
		}
		if err := e.checkID(m.ClientID); err != nil {
			pushErr = err
			break
		}

		cli := clients[m.ClientID]
		if cli == nil {
			cli, err = loadClient(batch, req.SpaceID, m.ClientID)
			if err != nil {
				pushErr = err
				break
			}
			if cli == nil {
				// first contact: the client starts at watermark zero
				cli = &clientRecord{group: req.ClientGroupID}
			} else if cli.group != req.ClientGroupID {
				e.log.WarnCtx(ctx, "client pushed under a different group",
					"space", req.SpaceID, "client", m.ClientID,
					"group", cli.group, "got", req.ClientGroupID)
			}
			clients[m.ClientID] = cli
		}

		if m.ID <= cli.last {
			pushMutations.WithLabelValues("skipped").Inc()
			continue
		}
		if m.ID != cli.last+1 {
			pushErr = fmt.Errorf("%w: client %q expects %d, got %d",
				sync_errors.ErrSequenceGap, m.ClientID, cli.last+1, m.ID)
			break
		}

		fn, ok := e.reg.Lookup(m.Name)
		if !ok {
			// recorded no-op: the id still advances so the client is not
			// stuck retrying an unknown name forever
			e.log.WarnCtx(ctx, "unknown mutator", "space", req.SpaceID,
				"client", m.ClientID, "mutation", m.ID, "name", m.Name)
			resp.UnknownMutators = append(resp.UnknownMutators, m.Name)
			pushMutations.WithLabelValues("unknown").Inc()
			cli.last = m.ID
			cli.version = version
			continue
		}

		tx := newSpaceTx(batch, req.SpaceID)
		if err := fn(ctx, tx, m.Args); err != nil {
			if cerr := ctx.Err(); cerr != nil {
				pushErr = cerr
				break
			}
			// a failing mutator is recorded as a no-op too; replaying it
			// would fail the same way and stall the client
			e.log.WarnCtx(ctx, "mutator failed", "space", req.SpaceID,
				"client", m.ClientID, "mutation", m.ID, "name", m.Name, "err", err)
			pushMutations.WithLabelValues("failed").Inc()
			cli.last = m.ID
			cli.version = version
			continue
		}

		version, err = tx.flush(batch, version)
		if err != nil {
			// the batch may hold a torn mutation now; discard it whole,
			// idempotent replay makes the retry safe
			pushRequests.WithLabelValues("error").Inc()
			return resp, err
		}
		pushMutations.WithLabelValues("applied").Inc()
		cli.last = m.ID
		cli.version = version
	}

	for client, cli := range clients {
		if err := batch.Set(CKey(req.SpaceID, client), cli.bytes(), nil); err != nil {
			pushRequests.WithLabelValues("error").Inc()
			return resp, wrapStore(err)
		}
	}
	if err := batch.Set(VKey(req.SpaceID), versionBytes(version), nil); err != nil {
		pushRequests.WithLabelValues("error").Inc()
		return resp, wrapStore(err)
	}

	// commit the applied prefix even when the batch aborted on a gap
	if err := batch.Commit(e.wo); err != nil {
		pushRequests.WithLabelValues("error").Inc()
		return resp, wrapStore(err)
	}

	outcome := "ok"
	if pushErr != nil {
		outcome = "aborted"
	}
	pushRequests.WithLabelValues(outcome).Inc()
	pushDuration.Observe(time.Since(start).Seconds())
	e.log.DebugCtx(ctx, "push", "space", req.SpaceID, "group", req.ClientGroupID,
		"mutations", len(req.Mutations), "version", version, "err", pushErr)
	return resp, pushErr
}
