package transport

// ItemResult is the server's verdict on one payload within a batch.
type ItemResult struct {
	Index   int    `json:"index"`
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
}

// Result is the outcome of one batch delivery. The endpoint either accepts
// the whole batch (Success true, Results empty) or reports per-item
// verdicts multi-status style; the queue treats the per-index verdicts as
// authoritative so accepted payloads are never redelivered just because a
// sibling in the same request failed.
type Result struct {
	Success       bool         `json:"success"`
	TotalRequests int          `json:"totalRequests,omitempty"`
	SuccessCount  int          `json:"successCount,omitempty"`
	FailureCount  int          `json:"failureCount,omitempty"`
	Results       []ItemResult `json:"results,omitempty"`
}

// FailedIndexes returns the indexes the server rejected, in order.
func (r *Result) FailedIndexes() []int {
	var failed []int
	for _, ir := range r.Results {
		if !ir.Success {
			failed = append(failed, ir.Index)
		}
	}
	return failed
}

// Partial reports whether this result carries per-item verdicts with at
// least one failure. Only the verdicts themselves are consulted; the
// redundant counters are ignored since servers do not always populate them.
func (r *Result) Partial() bool {
	return len(r.FailedIndexes()) > 0
}
