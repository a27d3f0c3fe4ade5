// Package failure defines the error taxonomy shared by workflow runs and
// cross-chain settlements.
package failure

import (
	"errors"
	"fmt"
)

// Kind classifies a failure so callers can decide between retrying,
// surfacing to the user, or recording it as terminal.
type Kind string

const (
	KindConfiguration       Kind = "configuration_error"
	KindDecoding            Kind = "decoding_error"
	KindInsufficientBalance Kind = "insufficient_balance"
	KindSimulation          Kind = "simulation_error"
	KindTransactionReverted Kind = "transaction_reverted"
	KindNetwork             Kind = "network_error"
)

// Sentinel errors, one per kind. Every *Error matches its kind's sentinel with errors.Is.
var (
	// ErrConfiguration indicates an unknown chain, token or adapter.
	ErrConfiguration = errors.New("configuration error")

	// ErrDecoding indicates a malformed workflow data payload.
	ErrDecoding = errors.New("decoding error")

	// ErrInsufficientBalance indicates a simulated or on-chain balance shortfall.
	ErrInsufficientBalance = errors.New("insufficient balance")

	// ErrSimulation indicates the dry-run of a transaction predicted a revert.
	ErrSimulation = errors.New("simulation failed")

	// ErrTransactionReverted indicates a mined transaction with a failed receipt.
	ErrTransactionReverted = errors.New("transaction reverted")

	// ErrNetwork indicates an RPC call failure.
	ErrNetwork = errors.New("network error")
)

var sentinels = map[Kind]error{
	KindConfiguration:       ErrConfiguration,
	KindDecoding:            ErrDecoding,
	KindInsufficientBalance: ErrInsufficientBalance,
	KindSimulation:          ErrSimulation,
	KindTransactionReverted: ErrTransactionReverted,
	KindNetwork:             ErrNetwork,
}

// Error wraps a classified failure with the operation that produced it.
type Error struct {
	Kind    Kind   // Failure class
	Op      string // Operation being performed (e.g. "compile", "simulate")
	Message string // Human-readable detail
	Err     error  // Underlying error, may be nil
}

func (e *Error) Error() string {
	switch {
	case e.Message != "" && e.Err != nil:
		return fmt.Sprintf("%s: %s: %v", e.Op, e.Message, e.Err)
	case e.Message != "":
		return fmt.Sprintf("%s: %s", e.Op, e.Message)
	case e.Err != nil:
		return fmt.Sprintf("%s: %v", e.Op, e.Err)
	default:
		return fmt.Sprintf("%s: %s", e.Op, e.Kind)
	}
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches the sentinel of the error's kind as well as the wrapped error.
func (e *Error) Is(target error) bool {
	if sentinel, ok := sentinels[e.Kind]; ok && target == sentinel {
		return true
	}

	return e.Err != nil && errors.Is(e.Err, target)
}

func newError(kind Kind, op, format string, args ...any) *Error {
	return &Error{Kind: kind, Op: op, Message: fmt.Sprintf(format, args...)}
}

func Configuration(op, format string, args ...any) *Error {
	return newError(KindConfiguration, op, format, args...)
}

func Decoding(op string, err error) *Error {
	return &Error{Kind: KindDecoding, Op: op, Err: err}
}

func InsufficientBalance(op, format string, args ...any) *Error {
	return newError(KindInsufficientBalance, op, format, args...)
}

func Simulation(op string, err error) *Error {
	return &Error{Kind: KindSimulation, Op: op, Err: err}
}

func TransactionReverted(op, txHash string) *Error {
	return &Error{Kind: KindTransactionReverted, Op: op, Message: "transaction " + txHash + " reverted"}
}

func Network(op string, err error) *Error {
	return &Error{Kind: KindNetwork, Op: op, Err: err}
}

// KindOf returns the kind of the first *Error in the chain, if any.
func KindOf(err error) (Kind, bool) {
	var classified *Error
	if errors.As(err, &classified) {
		return classified.Kind, true
	}

	return "", false
}

// UserMessage renders a short message that tells the user what went wrong
// without exposing internals.
func UserMessage(err error) string {
	if err == nil {
		return ""
	}

	kind, ok := KindOf(err)
	if !ok {
		return "Internal error"
	}

	switch kind {
	case KindInsufficientBalance:
		return "Insufficient funds: " + err.Error()
	case KindSimulation, KindTransactionReverted:
		return "The chain rejected this transaction"
	case KindDecoding:
		return "This action cannot be decoded"
	case KindConfiguration:
		return "Unsupported configuration: " + err.Error()
	case KindNetwork:
		return "The chain is unreachable, try again later"
	default:
		return "Internal error"
	}
}
