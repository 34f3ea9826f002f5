package models

// Batch item statuses.
const (
	BatchStatusOK     = "ok"
	BatchStatusFailed = "failed"
)

// BatchRequest is a list of questions processed together.
type BatchRequest struct {
	Queries    []string `json:"queries"`
	MaxResults int      `json:"max_results,omitempty"`
}

// ErrorInfo is the caller-facing form of an error.
type ErrorInfo struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

// BatchItem is the outcome for one query of a batch. Exactly one of Result or Error is set.
type BatchItem struct {
	Index  int          `json:"index"`
	Status string       `json:"status"`
	Query  string       `json:"query"`
	Result *QueryResult `json:"result,omitempty"`
	Error  *ErrorInfo   `json:"error,omitempty"`
}

// BatchResponse holds one item per input query, in input order.
type BatchResponse struct {
	Results   []*BatchItem `json:"results"`
	Total     int          `json:"total"`
	Succeeded int          `json:"succeeded"`
	Failed    int          `json:"failed"`
}
