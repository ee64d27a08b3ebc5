package domain

// WorkerResult is the single structured object a worker prints as the last
// line of its standard output. Payload fields depend on the operation.
type WorkerResult struct {
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
	Kind    string `json:"kind,omitempty"`

	// schema listing
	Schema map[string][]string `json:"schema,omitempty"`

	// row preview
	Columns []string         `json:"columns,omitempty"`
	Data    []map[string]any `json:"data,omitempty"`

	// extraction
	Output string   `json:"output,omitempty"`
	Layout LayoutID `json:"layout,omitempty"`
	Rows   int      `json:"rows,omitempty"`
}

// Failure converts an unsuccessful result into a classified error.
// It returns nil for successful results.
func (r *WorkerResult) Failure() error {
	if r == nil || r.Success {
		return nil
	}
	kind := ErrorKind(r.Kind)
	if kind == "" {
		kind = KindExtraction
	}
	msg := r.Error
	if msg == "" {
		msg = "worker reported failure without a message"
	}
	return &Error{Kind: kind, Message: msg}
}
