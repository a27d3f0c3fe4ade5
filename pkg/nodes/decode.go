package nodes

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/TilepMony-Project/engine/pkg/failure"
	"github.com/TilepMony-Project/engine/pkg/models"
	"github.com/go-playground/validator/v10"
	"github.com/xeipuuv/gojsonschema"
)

// Definition describes a node type for callers listing what can be authored.
type Definition struct {
	Type        models.NodeType `json:"type"`
	Name        string          `json:"name"`
	Description string          `json:"description"`
	OnChain     bool            `json:"on_chain"`
	Schema      map[string]any  `json:"schema"`

	decode func(raw []byte) (Properties, error)
}

type checker interface {
	check() error
}

var validate = validator.New(validator.WithRequiredStructEnabled())

var amountSchema = map[string]any{
	"type":        []string{"number", "string"},
	"description": "Absolute amount in whole units",
}

var percentageSchema = map[string]any{
	"type":        "number",
	"minimum":     0,
	"maximum":     100,
	"description": "Share of the previous output, defaults to 100",
}

func stringField(description string) map[string]any {
	return map[string]any{"type": "string", "description": description}
}

func objectSchema(required []string, properties map[string]any) map[string]any {
	schema := map[string]any{
		"type":       "object",
		"properties": properties,
	}

	if len(required) > 0 {
		schema["required"] = required
	}

	return schema
}

var definitions = []Definition{
	{
		Type:        models.NodeTypeDeposit,
		Name:        "Deposit",
		Description: "Credits a fiat currency to the workflow",
		Schema: objectSchema([]string{"amount", "currency"}, map[string]any{
			"amount":   amountSchema,
			"currency": stringField("Fiat currency code, e.g. USD"),
		}),
		decode: into[Deposit](nil),
	},
	{
		Type:        models.NodeTypeMint,
		Name:        "Mint",
		Description: "Converts fiat into a stablecoin",
		OnChain:     true,
		Schema: objectSchema([]string{"amount", "currency", "token"}, map[string]any{
			"amount":   amountSchema,
			"currency": stringField("Fiat currency debited"),
			"token":    stringField("Stablecoin symbol credited"),
		}),
		decode: into[Mint](nil),
	},
	{
		Type:        models.NodeTypeSwap,
		Name:        "Swap",
		Description: "Exchanges one token for another through an adapter",
		OnChain:     true,
		Schema: objectSchema([]string{"adapter", "token_out"}, map[string]any{
			"adapter":    stringField("Swap adapter name"),
			"token_in":   stringField("Token sold, empty for the previous output"),
			"token_out":  stringField("Token bought"),
			"amount":     amountSchema,
			"percentage": percentageSchema,
		}),
		decode: into[Swap](nil),
	},
	{
		Type:        models.NodeTypeBridge,
		Name:        "Bridge",
		Description: "Moves a token to another chain and continues the workflow there",
		OnChain:     true,
		Schema: objectSchema([]string{"token", "destination_chain_id"}, map[string]any{
			"token":                stringField("Token bridged"),
			"destination_chain_id": map[string]any{"type": "integer", "minimum": 1},
			"recipient":            stringField("Receiver on the destination chain, defaults to its controller"),
			"amount":               amountSchema,
			"percentage":           percentageSchema,
		}),
		decode: into[Bridge](nil),
	},
	{
		Type:        models.NodeTypeRedeem,
		Name:        "Redeem",
		Description: "Converts a stablecoin back into fiat",
		Schema: objectSchema([]string{"token", "currency"}, map[string]any{
			"token":      stringField("Stablecoin redeemed"),
			"currency":   stringField("Fiat currency credited"),
			"amount":     amountSchema,
			"percentage": percentageSchema,
		}),
		decode: into[Redeem](nil),
	},
	{
		Type:        models.NodeTypeTransfer,
		Name:        "Transfer",
		Description: "Sends a token out of the workflow",
		OnChain:     true,
		Schema: objectSchema(nil, map[string]any{
			"token":      stringField("Token sent, empty for the previous output"),
			"recipient":  stringField("Receiving address"),
			"amount":     amountSchema,
			"percentage": percentageSchema,
		}),
		decode: into[Transfer](nil),
	},
	{
		Type:        models.NodeTypeYieldDeposit,
		Name:        "Yield deposit",
		Description: "Deposits a token into a yield adapter",
		OnChain:     true,
		Schema:      yieldSchema,
		decode:      into[Yield](nil),
	},
	{
		Type:        models.NodeTypeYieldWithdraw,
		Name:        "Yield withdraw",
		Description: "Withdraws a token from a yield adapter",
		OnChain:     true,
		Schema:      yieldSchema,
		decode:      into(func(y *Yield) { y.withdraw = true }),
	},
	{
		Type:        models.NodeTypeWait,
		Name:        "Wait",
		Description: "Pauses the workflow",
		Schema: objectSchema([]string{"value", "unit"}, map[string]any{
			"value": map[string]any{"type": []string{"number", "string"}},
			"unit":  stringField("milliseconds, seconds, minutes, hours or days"),
		}),
		decode: into(func(w *Wait) { w.Unit = normalizeUnit(w.Unit) }),
	},
	{
		Type:        models.NodeTypePartition,
		Name:        "Partition",
		Description: "Splits the flow across its outgoing edges",
		Schema: objectSchema(nil, map[string]any{
			"shares": map[string]any{"type": "array", "items": percentageSchema},
		}),
		decode: into[Partition](nil),
	},
}

var yieldSchema = objectSchema([]string{"adapter", "token"}, map[string]any{
	"adapter":    stringField("Yield adapter name"),
	"token":      stringField("Token deposited or withdrawn"),
	"amount":     amountSchema,
	"percentage": percentageSchema,
})

// Definitions returns every supported node type.
func Definitions() []Definition {
	return definitions
}

// Lookup returns the definition of a node type.
func Lookup(nodeType models.NodeType) (Definition, bool) {
	for _, definition := range definitions {
		if definition.Type == nodeType {
			return definition, true
		}
	}

	return Definition{}, false
}

// Decode validates the node's property bag against its schema and decodes it
// into the node type's Properties value.
func Decode(node models.ExecutionNode) (Properties, error) {
	definition, ok := Lookup(node.Type)
	if !ok {
		return nil, failure.Configuration("decode", "node %s has unsupported type %q", node.ID, node.Type)
	}

	properties := node.Properties
	if properties == nil {
		properties = map[string]any{}
	}

	result, err := gojsonschema.Validate(gojsonschema.NewGoLoader(definition.Schema), gojsonschema.NewGoLoader(properties))
	if err != nil {
		return nil, failure.Configuration("decode", "node %s: %v", node.ID, err)
	}

	if !result.Valid() {
		messages := make([]string, 0, len(result.Errors()))
		for _, schemaErr := range result.Errors() {
			messages = append(messages, schemaErr.String())
		}

		return nil, failure.Configuration("decode", "node %s: %s", node.ID, strings.Join(messages, "; "))
	}

	raw, err := json.Marshal(properties)
	if err != nil {
		return nil, failure.Configuration("decode", "node %s: %v", node.ID, err)
	}

	decoded, err := definition.decode(raw)
	if err != nil {
		return nil, failure.Configuration("decode", "node %s: %v", node.ID, err)
	}

	return decoded, nil
}

// DecodeAll decodes every node, stopping at the first failure.
func DecodeAll(nodes []models.ExecutionNode) ([]Properties, error) {
	decoded := make([]Properties, 0, len(nodes))

	for _, node := range nodes {
		properties, err := Decode(node)
		if err != nil {
			return nil, err
		}

		decoded = append(decoded, properties)
	}

	return decoded, nil
}

func into[T Properties](adjust func(*T)) func([]byte) (Properties, error) {
	return func(raw []byte) (Properties, error) {
		var value T
		if err := json.Unmarshal(raw, &value); err != nil {
			return nil, fmt.Errorf("invalid properties: %w", err)
		}

		if adjust != nil {
			adjust(&value)
		}

		if err := validate.Struct(value); err != nil {
			return nil, err
		}

		if c, ok := any(value).(checker); ok {
			if err := c.check(); err != nil {
				return nil, err
			}
		}

		return value, nil
	}
}

var errNonPositiveAmount = errors.New("amount must be greater than zero")

func (d Deposit) check() error {
	if !d.Amount.IsPositive() {
		return errNonPositiveAmount
	}

	return nil
}

func (m Mint) check() error {
	if !m.Amount.IsPositive() {
		return errNonPositiveAmount
	}

	return nil
}

func (w Wait) check() error {
	if w.Value.IsNegative() {
		return errors.New("wait value must not be negative")
	}

	return nil
}

func (s Share) check() error {
	if s.Amount.IsNegative() {
		return errors.New("amount must not be negative")
	}

	if s.Percentage != nil && *s.Percentage <= 0 {
		return errors.New("percentage must be greater than zero")
	}

	return nil
}
