package docstore

import "encoding/json"

// State is the lifecycle state of a Store.
type State int32

const (
	StateUninitialized State = iota
	StateReadyWithEmbeddings
	StateReadyKeywordOnly
	// StateReadyEphemeral serves from memory; nothing survives a restart.
	StateReadyEphemeral
	// StateFailed is terminal. Every operation returns ErrUninitialized.
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "UNINITIALIZED"
	case StateReadyWithEmbeddings:
		return "READY_WITH_EMBEDDINGS"
	case StateReadyKeywordOnly:
		return "READY_KEYWORD_ONLY"
	case StateReadyEphemeral:
		return "READY_EPHEMERAL"
	case StateFailed:
		return "FAILED"
	default:
		return "UNKNOWN"
	}
}

// Ready reports whether the store accepts operations.
func (s State) Ready() bool {
	return s == StateReadyWithEmbeddings || s == StateReadyKeywordOnly || s == StateReadyEphemeral
}

func (s State) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}
