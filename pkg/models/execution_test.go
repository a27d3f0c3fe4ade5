package models

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExecution_TransitionTo_AllowedPath(t *testing.T) {
	now := time.Now().UTC()
	execution := NewExecution("exec-1", "wf-1", "user-1", now)

	require.NoError(t, execution.TransitionTo(ExecutionStatusRunning, now))
	require.NoError(t, execution.TransitionTo(ExecutionStatusRunningWaiting, now))
	require.NoError(t, execution.TransitionTo(ExecutionStatusRunning, now))
	assert.Nil(t, execution.FinishedAt)

	require.NoError(t, execution.TransitionTo(ExecutionStatusFinished, now))
	require.NotNil(t, execution.FinishedAt)
	assert.Equal(t, now, *execution.FinishedAt)
}

func TestExecution_TransitionTo_Rejected(t *testing.T) {
	now := time.Now().UTC()

	testCases := []struct {
		name string
		from ExecutionStatus
		to   ExecutionStatus
	}{
		{"skip running", ExecutionStatusPendingSignature, ExecutionStatusFinished},
		{"waiting straight to finished", ExecutionStatusRunningWaiting, ExecutionStatusFinished},
		{"out of finished", ExecutionStatusFinished, ExecutionStatusRunning},
		{"out of failed", ExecutionStatusFailed, ExecutionStatusRunning},
		{"out of stopped", ExecutionStatusStopped, ExecutionStatusFailed},
		{"back to pending signature", ExecutionStatusRunning, ExecutionStatusPendingSignature},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			execution := &Execution{Status: tc.from}

			err := execution.TransitionTo(tc.to, now)
			require.ErrorIs(t, err, ErrInvalidTransition)
			assert.Equal(t, tc.from, execution.Status)
		})
	}
}

func TestExecution_CloneIsDeep(t *testing.T) {
	execution := NewExecution("exec-1", "wf-1", "user-1", time.Now())
	execution.ExecutionLog = append(execution.ExecutionLog, ExecutionLogEntry{NodeID: "a", Status: LogStatusPending})

	clone := execution.Clone()
	clone.ExecutionLog[0].Status = LogStatusComplete

	assert.Equal(t, LogStatusPending, execution.ExecutionLog[0].Status)
}

func TestExecutionContext_Debit(t *testing.T) {
	ledger := NewExecutionContext("exec-1", "wf-1")
	ledger.CreditFiat("USD", decimal.NewFromInt(100))

	assert.False(t, ledger.DebitFiat("USD", decimal.NewFromInt(101)))
	assert.True(t, ledger.Fiat("USD").Equal(decimal.NewFromInt(100)))

	assert.True(t, ledger.DebitFiat("USD", decimal.NewFromInt(100)))
	assert.True(t, ledger.Fiat("USD").IsZero())

	assert.False(t, ledger.DebitToken("USDX", decimal.NewFromInt(1)))
}

func TestNodeType_Valid(t *testing.T) {
	for _, nodeType := range NodeTypes {
		assert.True(t, nodeType.Valid(), nodeType)
	}

	assert.False(t, NodeType("http_request").Valid())
}
