package llm

import (
	"strings"
	"unicode/utf8"

	"github.com/huangang/scamarena/backend/internal/config"
)

// Pricer estimates the USD cost of prompt and completion text for a model.
type Pricer interface {
	PromptCost(content, model string) float64
	CompletionCost(content, model string) float64
}

// Built-in list prices, USD per one million tokens.
var defaultPrices = map[string]config.Price{
	"gpt-4o":                  {Input: 2.50, Output: 10.00},
	"gpt-4o-mini":             {Input: 0.15, Output: 0.60},
	"gpt-4.1":                 {Input: 2.00, Output: 8.00},
	"gpt-4.1-mini":            {Input: 0.40, Output: 1.60},
	"claude-3-haiku":          {Input: 0.25, Output: 1.25},
	"claude-3-5-haiku":        {Input: 0.80, Output: 4.00},
	"claude-3-5-sonnet":       {Input: 3.00, Output: 15.00},
	"claude-sonnet-4":         {Input: 3.00, Output: 15.00},
	"gemini-2.0-flash":        {Input: 0.10, Output: 0.40},
	"gemini-2.5-flash":        {Input: 0.30, Output: 2.50},
	"gemini-2.5-pro":          {Input: 1.25, Output: 10.00},
	"llama":                   {},
	"qwen":                    {},
	"mistral":                 {},
	"claude-3-haiku-20240307": {Input: 0.25, Output: 1.25},
}

// PriceTable resolves a model to its price by exact name, then by the longest
// known prefix, then falls back to a flat rate.
type PriceTable struct {
	prices   map[string]config.Price
	fallback config.Price
}

func NewPriceTable(overrides map[string]config.Price) *PriceTable {
	prices := make(map[string]config.Price, len(defaultPrices)+len(overrides))
	for k, v := range defaultPrices {
		prices[k] = v
	}
	for k, v := range overrides {
		prices[strings.ToLower(k)] = v
	}
	return &PriceTable{
		prices:   prices,
		fallback: config.Price{Input: 1.00, Output: 3.00},
	}
}

func (p *PriceTable) Lookup(model string) config.Price {
	model = strings.ToLower(model)
	if price, ok := p.prices[model]; ok {
		return price
	}

	best := ""
	for name := range p.prices {
		if strings.HasPrefix(model, name) && len(name) > len(best) {
			best = name
		}
	}
	if best != "" {
		return p.prices[best]
	}
	return p.fallback
}

func (p *PriceTable) PromptCost(content, model string) float64 {
	return float64(EstimateTokens(content)) * p.Lookup(model).Input / 1_000_000
}

func (p *PriceTable) CompletionCost(content, model string) float64 {
	return float64(EstimateTokens(content)) * p.Lookup(model).Output / 1_000_000
}

// EstimateTokens approximates a token count at four characters per token.
func EstimateTokens(content string) int {
	n := utf8.RuneCountInString(content)
	if n == 0 {
		return 0
	}
	return (n + 3) / 4
}
