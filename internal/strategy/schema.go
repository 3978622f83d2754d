package strategy

import (
	"encoding/json"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/aristath/arena-agent/internal/clients/llm"
	"github.com/aristath/arena-agent/internal/domain"
)

// MaxReasoningChars bounds the reasoning narrative
const MaxReasoningChars = 2000

// tradeSchema is the fixed output schema shared by every decision phase and
// by the submit_decision tool. It only uses keywords that strict structured
// output accepts; the amount and reasoning bounds are stated in descriptions
// and enforced by parseTradeOutput.
var tradeSchema = json.RawMessage(`{
  "type": "object",
  "properties": {
    "trades": {
      "type": "array",
      "items": {
        "type": "object",
        "properties": {
          "from": {"type": "string", "description": "Asset to sell (e.g. 'USD', 'TAO', 'ALPHA_1')"},
          "to": {"type": "string", "description": "Asset to buy"},
          "amount": {"type": "number", "description": "Amount of the 'from' asset to trade, greater than 0"}
        },
        "required": ["from", "to", "amount"],
        "additionalProperties": false
      }
    },
    "reasoning": {"type": "string", "description": "1-2 sentence explanation of your trading decision, at most 2000 characters"}
  },
  "required": ["trades", "reasoning"],
  "additionalProperties": false
}`)

func tradeResponseSchema() *llm.ResponseSchema {
	return &llm.ResponseSchema{Name: "trade_decision", Schema: tradeSchema}
}

type tradeOutput struct {
	Trades    *[]domain.Trade `json:"trades"`
	Reasoning *string         `json:"reasoning"`
}

// parseTradeOutput decodes and checks a reply against the trade schema.
func parseTradeOutput(raw string) ([]domain.Trade, string, error) {
	text := strings.TrimSpace(raw)
	text = strings.TrimPrefix(text, "```json")
	text = strings.TrimPrefix(text, "```")
	text = strings.TrimSuffix(text, "```")
	text = strings.TrimSpace(text)

	var out tradeOutput
	decoder := json.NewDecoder(strings.NewReader(text))
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&out); err != nil {
		return nil, "", fmt.Errorf("%w: %v", domain.ErrSchemaViolation, err)
	}
	if out.Trades == nil {
		return nil, "", fmt.Errorf("%w: missing trades", domain.ErrSchemaViolation)
	}
	if out.Reasoning == nil {
		return nil, "", fmt.Errorf("%w: missing reasoning", domain.ErrSchemaViolation)
	}
	if n := utf8.RuneCountInString(*out.Reasoning); n > MaxReasoningChars {
		return nil, "", fmt.Errorf("%w: reasoning has %d characters (max %d)", domain.ErrSchemaViolation, n, MaxReasoningChars)
	}
	trades := *out.Trades
	for i, t := range trades {
		if t.From == "" || t.To == "" {
			return nil, "", fmt.Errorf("%w: trade %d is missing an asset", domain.ErrSchemaViolation, i)
		}
		if !(t.Amount > 0) {
			return nil, "", fmt.Errorf("%w: trade %d amount must be positive, got %v", domain.ErrSchemaViolation, i, t.Amount)
		}
	}

	if trades == nil {
		trades = []domain.Trade{}
	}
	return trades, *out.Reasoning, nil
}
