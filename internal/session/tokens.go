package session

// TokenDelta is what a single turn reports back from the model runtime.
type TokenDelta struct {
	InputTokens      int64
	OutputTokens     int64
	CacheReadTokens  int64
	CacheWriteTokens int64
	CostUSD          float64
}

// Usage is the running total a Session accumulates across turns within one
// generation; it resets to zero on rotation.
type Usage struct {
	InputTokens      int64
	OutputTokens     int64
	CacheReadTokens  int64
	CacheWriteTokens int64
	CostUSD          float64
}

func (u *Usage) add(d TokenDelta) {
	u.InputTokens += d.InputTokens
	u.OutputTokens += d.OutputTokens
	u.CacheReadTokens += d.CacheReadTokens
	u.CacheWriteTokens += d.CacheWriteTokens
	u.CostUSD += d.CostUSD
}
