package session

// EstimateTokens approximates the context cost of a piece of text at one
// token per four bytes, rounded down. Deterministic and monotonic: adding
// characters never decreases the estimate.
func EstimateTokens(text string) int {
	return len(text) / 4
}
