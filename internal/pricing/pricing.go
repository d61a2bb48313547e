// Package pricing converts AI token usage into USD cost for the usage
// meter. Rates are per million tokens.
package pricing

import "github.com/sells-group/saleslist-enrich/pkg/powerplexy"

// Rate is the USD price per million input and output tokens of a model.
type Rate struct {
	InputPerMTok  float64
	OutputPerMTok float64
}

var rates = map[string]Rate{
	"sonar":     {InputPerMTok: 1, OutputPerMTok: 1},
	"sonar-pro": {InputPerMTok: 3, OutputPerMTok: 15},
}

// defaultRate applies to unknown models so cost never silently reads zero.
var defaultRate = rates["sonar-pro"]

// RateFor returns the price table entry for model.
func RateFor(model string) Rate {
	if r, ok := rates[model]; ok {
		return r
	}
	return defaultRate
}

// Cost prices a completion's token usage in USD.
func Cost(model string, usage powerplexy.Usage) float64 {
	r := RateFor(model)
	return float64(usage.PromptTokens)/1e6*r.InputPerMTok +
		float64(usage.CompletionTokens)/1e6*r.OutputPerMTok
}
