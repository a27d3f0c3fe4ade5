package persistence_test

import (
	"errors"
	"fmt"
	"testing"

	"github.com/TilepMony-Project/engine/pkg/models"
	"github.com/TilepMony-Project/engine/pkg/persistence"
	"github.com/stretchr/testify/assert"
)

func TestStandardizedErrors(t *testing.T) {
	t.Parallel()

	t.Run("settlement error unwraps", func(t *testing.T) {
		err := persistence.NewSettlementError("Get", "0xabc", persistence.ErrSettlementNotFound)

		assert.True(t, persistence.IsSettlementNotFound(err))
		assert.False(t, persistence.IsExecutionNotFound(err))
		assert.Contains(t, err.Error(), "Get")
		assert.Contains(t, err.Error(), "0xabc")
	})

	t.Run("status conflict carries current status", func(t *testing.T) {
		conflict := &persistence.StatusConflictError{
			MessageID: "0xabc",
			Expected:  models.SettlementStatusPending,
			Current:   models.SettlementStatusExecuting,
		}
		wrapped := fmt.Errorf("execute: %w", conflict)

		assert.True(t, errors.Is(wrapped, persistence.ErrStatusConflict))

		status, ok := persistence.CurrentStatus(wrapped)
		assert.True(t, ok)
		assert.Equal(t, models.SettlementStatusExecuting, status)
	})

	t.Run("current status absent", func(t *testing.T) {
		_, ok := persistence.CurrentStatus(persistence.ErrSettlementNotFound)
		assert.False(t, ok)
	})
}
