package tool

import "context"

type thresholdKey struct{}

// WithSimilarityThreshold overrides the registry's default minimum similarity
// for searches executed under this context. Callers pass the per-request
// threshold down through the tool loop this way.
func WithSimilarityThreshold(ctx context.Context, threshold float64) context.Context {
	return context.WithValue(ctx, thresholdKey{}, threshold)
}

func similarityThreshold(ctx context.Context, fallback float64) float64 {
	if v, ok := ctx.Value(thresholdKey{}).(float64); ok {
		return v
	}
	return fallback
}
