package protocol

import (
	"io"

	json "github.com/goccy/go-json"
)

// Mutation is one client-issued state transition. IDs are 1-based and
// strictly increasing per client; the engine uses them for idempotent replay.
type Mutation struct {
	ClientID string          `json:"clientID"`
	ID       uint64          `json:"id"`
	Name     string          `json:"name"`
	Args     json.RawMessage `json:"args,omitempty"`
}

type PushRequest struct {
	SpaceID       string     `json:"spaceID"`
	ClientGroupID string     `json:"clientGroupID"`
	Mutations     []Mutation `json:"mutations"`
}

// PushResponse is empty on full success; UnknownMutators lists mutation names
// that were recorded as no-ops because no mutator was registered for them.
type PushResponse struct {
	UnknownMutators []string `json:"unknownMutators,omitempty"`
}

type PullRequest struct {
	SpaceID       string `json:"spaceID"`
	ClientGroupID string `json:"clientGroupID"`
	Cookie        string `json:"cookie"`
}

const (
	OpPut = "put"
	OpDel = "del"
)

// PatchOp is one entry of the minimal patch reconciling a client's view with
// authoritative state. Value is present for "put" only.
type PatchOp struct {
	Op    string          `json:"op"`
	Key   string          `json:"key"`
	Value json.RawMessage `json:"value,omitempty"`
}

type PullResponse struct {
	Cookie                string            `json:"cookie"`
	LastMutationIDChanges map[string]uint64 `json:"lastMutationIDChanges"`
	Patch                 []PatchOp         `json:"patch"`
}

func DecodePushRequest(r io.Reader) (req PushRequest, err error) {
	err = json.NewDecoder(r).Decode(&req)
	return
}

func DecodePullRequest(r io.Reader) (req PullRequest, err error) {
	err = json.NewDecoder(r).Decode(&req)
	return
}

func EncodeResponse(w io.Writer, v any) error {
	return json.NewEncoder(w).Encode(v)
}
