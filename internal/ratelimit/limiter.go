package ratelimit

import "context"

// Limiter hands out recipient budget from a fixed per-second window.
type Limiter interface {
	// ReserveN takes up to n units from the current one-second window for
	// scope and returns how many were granted, possibly zero.
	ReserveN(ctx context.Context, scope string, n int) (int, error)
}
