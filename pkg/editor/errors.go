package editor

import (
	"errors"
	"fmt"

	"github.com/dukex/processflow/pkg/persistence"
)

// ConflictMessage is what the user sees when their save lost the race for a version.
const ConflictMessage = "someone else changed this flow, reload to see their version"

var (
	ErrNotLoaded   = errors.New("no flow loaded")
	ErrUnknownNode = errors.New("unknown node")
	ErrUnknownEdge = errors.New("unknown edge")
	ErrDuplicateID = errors.New("duplicate id")
	ErrEmptyChange = errors.New("change is empty")
)

// ConflictError is returned by Save when the store moved past the held version. The
// working graph and held version are kept so the user can reload and reapply.
type ConflictError struct {
	FlowID      int64
	HeldVersion int64
}

func (e *ConflictError) Error() string {
	return ConflictMessage
}

func (e *ConflictError) Unwrap() error {
	return persistence.ErrVersionConflict
}

func unknownNode(id string) error {
	return fmt.Errorf("%w: %s", ErrUnknownNode, id)
}

func unknownEdge(id string) error {
	return fmt.Errorf("%w: %s", ErrUnknownEdge, id)
}
