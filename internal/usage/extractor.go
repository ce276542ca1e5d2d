package usage

import (
	"math"

	"github.com/tidwall/gjson"
)

// Tokens is the usage block of a completion.
type Tokens struct {
	ResponseID       string
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
}

// Found reports whether any token count was present.
func (t Tokens) Found() bool {
	return t.PromptTokens > 0 || t.CompletionTokens > 0 || t.TotalTokens > 0
}

// ExtractTokens reads the id and usage block of a chat completion body
// without decoding the whole document. Missing fields stay zero.
func ExtractTokens(body []byte) Tokens {
	if !gjson.ValidBytes(body) {
		return Tokens{}
	}
	res := gjson.GetManyBytes(body,
		"id",
		"usage.prompt_tokens",
		"usage.completion_tokens",
		"usage.total_tokens",
	)
	t := Tokens{
		ResponseID:       res[0].String(),
		PromptTokens:     int(res[1].Int()),
		CompletionTokens: int(res[2].Int()),
		TotalTokens:      int(res[3].Int()),
	}
	if t.TotalTokens == 0 {
		t.TotalTokens = t.PromptTokens + t.CompletionTokens
	}
	return t
}

// Apply copies t into entry and prices it at pricePer1K.
func (t Tokens) Apply(entry *UsageEntry, pricePer1K float64) {
	if t.ResponseID != "" {
		entry.ResponseID = t.ResponseID
	}
	entry.PromptTokens = t.PromptTokens
	entry.CompletionTokens = t.CompletionTokens
	entry.TotalTokens = t.TotalTokens
	entry.EstimatedCost = EstimateCost(t.TotalTokens, pricePer1K)
}

// EstimateCost prices tokens at pricePer1K, rounded to a millionth.
func EstimateCost(tokens int, pricePer1K float64) float64 {
	if tokens <= 0 || pricePer1K <= 0 {
		return 0
	}
	cost := float64(tokens) / 1000 * pricePer1K
	return math.Round(cost*1e6) / 1e6
}
