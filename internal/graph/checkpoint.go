package graph

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/jarvisproj/jarvis/internal/llm"
)

// ErrNoCheckpoint is returned by GetLatest for a thread that has never
// been checkpointed.
var ErrNoCheckpoint = errors.New("no checkpoint for thread")

// ErrCheckpointWrite wraps storage failures. A turn whose checkpoint
// write fails is considered failed; the driver must not display its
// response.
var ErrCheckpointWrite = errors.New("checkpoint write failed")

// Checkpoint is a durable snapshot of the thread state plus the nodes
// the engine will execute when resumed. An empty Next means the graph
// is terminal.
type Checkpoint struct {
	ID        string    `json:"id"`
	ThreadID  string    `json:"thread_id"`
	Version   int64     `json:"version"`
	State     State     `json:"state"`
	Next      []string  `json:"next"`
	CreatedAt time.Time `json:"created_at"`
}

// NewCheckpoint builds an unversioned checkpoint; the store assigns
// the version on write.
func NewCheckpoint(threadID string, state State, next []string) Checkpoint {
	return Checkpoint{
		ID:        uuid.NewString(),
		ThreadID:  threadID,
		State:     state,
		Next:      next,
		CreatedAt: time.Now().UTC(),
	}
}

// Terminal reports whether the graph has nothing left to execute.
func (c Checkpoint) Terminal() bool {
	return len(c.Next) == 0
}

// NextIs reports whether node is the sole pending node.
func (c Checkpoint) NextIs(node string) bool {
	return len(c.Next) == 1 && c.Next[0] == node
}

// EncodeCheckpoint serialises a checkpoint for storage. JSON keeps the
// on-disk format portable across restarts and readable in debugging.
func EncodeCheckpoint(cp Checkpoint) ([]byte, error) {
	data, err := json.Marshal(cp)
	if err != nil {
		return nil, fmt.Errorf("encoding checkpoint: %w", err)
	}
	return data, nil
}

// DecodeCheckpoint deserialises a stored checkpoint.
func DecodeCheckpoint(data []byte) (Checkpoint, error) {
	var cp Checkpoint
	if err := json.Unmarshal(data, &cp); err != nil {
		return Checkpoint{}, fmt.Errorf("decoding checkpoint: %w", err)
	}
	if cp.State.Metadata == nil {
		cp.State.Metadata = make(map[string]string)
	}
	return cp, nil
}

// Checkpointer is the durable store for thread state. Implementations
// must make each write atomic, keep versions monotonic per thread, and
// serialise concurrent writes to the same thread.
type Checkpointer interface {
	// GetLatest returns the highest-version checkpoint for the thread,
	// or ErrNoCheckpoint.
	GetLatest(ctx context.Context, threadID string) (Checkpoint, error)

	// Put durably writes cp under a new version and returns the
	// checkpoint with its assigned version.
	Put(ctx context.Context, cp Checkpoint) (Checkpoint, error)

	// Close releases the store's resources.
	Close() error
}

// UpdatePartial writes a state delta against the thread's latest
// checkpoint as a new version with the given pending nodes. This is
// how rejection messages are injected "as if" the tools node had
// produced them: the caller supplies the delta and the nodes that
// would follow.
func UpdatePartial(ctx context.Context, store Checkpointer, threadID string, delta Delta, next []string) (Checkpoint, error) {
	latest, err := store.GetLatest(ctx, threadID)
	if err != nil {
		return Checkpoint{}, err
	}
	state, err := delta.Apply(latest.State)
	if err != nil {
		return Checkpoint{}, err
	}
	return store.Put(ctx, NewCheckpoint(threadID, state, next))
}

// Delta is a partial state update produced by one node execution. Nil
// fields leave the corresponding state untouched.
type Delta struct {
	Messages []llm.Message
	Role     *llm.Role
	Usage    *llm.TokenUsage
	Metadata map[string]string
}

// Apply merges the delta into state, returning the updated state.
func (d Delta) Apply(state State) (State, error) {
	out := state.Clone()
	if len(d.Messages) > 0 {
		merged, err := MergeMessages(out.Messages, d.Messages)
		if err != nil {
			return State{}, err
		}
		out.Messages = merged
	}
	if d.Role != nil {
		out.CurrentRole = *d.Role
	}
	if d.Usage != nil {
		out.Usage.Add(*d.Usage)
	}
	for k, v := range d.Metadata {
		out.Metadata[k] = v
	}
	return out, nil
}
