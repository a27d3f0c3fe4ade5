package models

import (
	"github.com/shopspring/decimal"
)

// ExecutionContext is the simulated ledger of a single run. It is owned by
// the runner for the duration of that run and is not safe for concurrent use.
type ExecutionContext struct {
	ExecutionID   string                     `json:"execution_id"`
	WorkflowID    string                     `json:"workflow_id"`
	FiatBalances  map[string]decimal.Decimal `json:"fiat_balances"`
	TokenBalances map[string]decimal.Decimal `json:"token_balances"`
}

// NewExecutionContext creates an empty ledger for the given execution.
func NewExecutionContext(executionID, workflowID string) *ExecutionContext {
	return &ExecutionContext{
		ExecutionID:   executionID,
		WorkflowID:    workflowID,
		FiatBalances:  make(map[string]decimal.Decimal),
		TokenBalances: make(map[string]decimal.Decimal),
	}
}

// Fiat returns the balance of a fiat currency, zero when unknown.
func (c *ExecutionContext) Fiat(currency string) decimal.Decimal {
	return c.FiatBalances[currency]
}

// Token returns the balance of a token symbol, zero when unknown.
func (c *ExecutionContext) Token(symbol string) decimal.Decimal {
	return c.TokenBalances[symbol]
}

func (c *ExecutionContext) CreditFiat(currency string, amount decimal.Decimal) {
	c.FiatBalances[currency] = c.FiatBalances[currency].Add(amount)
}

func (c *ExecutionContext) CreditToken(symbol string, amount decimal.Decimal) {
	c.TokenBalances[symbol] = c.TokenBalances[symbol].Add(amount)
}

// DebitFiat removes amount from a fiat balance. It returns false and leaves
// the balance untouched when the balance is insufficient.
func (c *ExecutionContext) DebitFiat(currency string, amount decimal.Decimal) bool {
	return debit(c.FiatBalances, currency, amount)
}

// DebitToken removes amount from a token balance. It returns false and leaves
// the balance untouched when the balance is insufficient.
func (c *ExecutionContext) DebitToken(symbol string, amount decimal.Decimal) bool {
	return debit(c.TokenBalances, symbol, amount)
}

func debit(balances map[string]decimal.Decimal, key string, amount decimal.Decimal) bool {
	current := balances[key]
	if current.LessThan(amount) {
		return false
	}

	balances[key] = current.Sub(amount)

	return true
}

// Snapshot returns copies of both balance maps.
func (c *ExecutionContext) Snapshot() (fiat, tokens map[string]decimal.Decimal) {
	fiat = make(map[string]decimal.Decimal, len(c.FiatBalances))
	for k, v := range c.FiatBalances {
		fiat[k] = v
	}

	tokens = make(map[string]decimal.Decimal, len(c.TokenBalances))
	for k, v := range c.TokenBalances {
		tokens[k] = v
	}

	return fiat, tokens
}
