package vision

import "context"

// NoopClient always rejects, for environments with no vision credentials
// configured (e.g. backtesting without a live key pool).
type NoopClient struct{}

// Analyze always returns a NO verdict.
func (NoopClient) Analyze(ctx context.Context, image []byte, prompt string) (Verdict, error) {
	return Verdict{Decision: DecisionNo, Reason: "vision client not configured"}, nil
}
