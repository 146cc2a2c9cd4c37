package embed

// Price per 1K tokens, prompt/completion. Unknown models cost zero.
var pricing = map[string][2]float64{
	"text-embedding-004":   {0.00002, 0},
	"gemini-embedding-001": {0.00013, 0},
	"gemini-1.5-flash":     {0.00015, 0.00060},
	"gemini-1.5-pro":       {0.005, 0.015},
}

// Cost computes the total cost for a call against one model.
func Cost(model string, promptTokens, completionTokens int) float64 {
	p, ok := pricing[model]
	if !ok {
		return 0
	}
	return float64(promptTokens)/1000*p[0] + float64(completionTokens)/1000*p[1]
}
