package tutor

// Model token pricing in USD per million tokens. Policy constants pinned to
// the current backend price sheet; update together when the backend changes.
const (
	inputUSDPerMillion  = 3.00
	cachedUSDPerMillion = 0.30
	outputUSDPerMillion = 15.00
)

// GenerationCost returns the USD cost of a completion given its token usage.
// Cached input tokens are billed at a tenth of the fresh input rate.
func GenerationCost(inputTokens, cachedInputTokens, outputTokens int) float64 {
	return float64(inputTokens)*inputUSDPerMillion/1e6 +
		float64(cachedInputTokens)*cachedUSDPerMillion/1e6 +
		float64(outputTokens)*outputUSDPerMillion/1e6
}
