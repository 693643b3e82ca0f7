// Provides common spacesync error definitions.
package sync_errors

import "errors"

var (
	ErrSpaceExists  = errors.New("spacesync: space already exists")
	ErrSpaceUnknown = errors.New("spacesync: unknown space")

	ErrClientGroupUnknown = errors.New("spacesync: unknown client group")
	ErrSequenceGap        = errors.New("spacesync: mutation sequence gap")
	ErrUnknownMutator     = errors.New("spacesync: unknown mutator")
	ErrBadCookie          = errors.New("spacesync: bad pull cookie")
	ErrBadID              = errors.New("spacesync: bad identifier")
	ErrStoreUnavailable   = errors.New("spacesync: store unavailable")
	ErrClosed             = errors.New("spacesync: engine is closed")
)
