package persistence_test

import (
	"errors"
	"fmt"
	"testing"

	"github.com/dukex/processflow/pkg/persistence"
	"github.com/stretchr/testify/assert"
)

func TestStandardizedErrors(t *testing.T) {
	t.Parallel()

	t.Run("error constants are available", func(t *testing.T) {
		assert.NotNil(t, persistence.ErrFlowNotFound)
		assert.NotNil(t, persistence.ErrVersionConflict)
		assert.NotNil(t, persistence.ErrInvalidSortField)
	})

	t.Run("error checking functions work correctly", func(t *testing.T) {
		flowErr := persistence.NewFlowError("GetByID", 42, persistence.ErrFlowNotFound)
		wrapped := fmt.Errorf("failed to load: %w", flowErr)

		assert.True(t, persistence.IsFlowNotFound(flowErr))
		assert.True(t, persistence.IsFlowNotFound(wrapped))
		assert.False(t, persistence.IsVersionConflict(flowErr))
		assert.True(t, errors.Is(flowErr, persistence.ErrFlowNotFound))
	})

	t.Run("flow error contains context", func(t *testing.T) {
		err := persistence.NewFlowError("Put", 42, persistence.ErrFlowNotFound)

		assert.Contains(t, err.Error(), "Put")
		assert.Contains(t, err.Error(), "42")
		assert.Contains(t, err.Error(), "flow not found")
	})

	t.Run("version conflict carries both versions", func(t *testing.T) {
		err := persistence.NewFlowError("Put", 42, &persistence.VersionConflictError{FlowID: 42, Expected: 1, Actual: 2})

		assert.True(t, persistence.IsVersionConflict(err))

		var conflict *persistence.VersionConflictError
		assert.True(t, errors.As(err, &conflict))
		assert.Equal(t, int64(2), conflict.Actual)
		assert.Contains(t, err.Error(), "expected version 1, store has 2")
	})
}
