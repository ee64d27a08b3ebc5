package domain

import "time"

// RawResultSet is one query result as returned by the legacy store.
type RawResultSet struct {
	Columns []string `json:"columns"`
	Rows    [][]any  `json:"rows"`
}

// Record maps canonical field names to normalized scalar values
// (string, int64 or float64).
type Record map[string]any

// RecordSet is an ordered sequence of records sharing one layout's fields.
type RecordSet struct {
	LayoutID LayoutID `json:"layoutId"`
	Fields   []string `json:"fields"`
	Records  []Record `json:"records"`
}

// Len returns the number of records.
func (s *RecordSet) Len() int {
	if s == nil {
		return 0
	}
	return len(s.Records)
}

// Head returns a copy of the set holding at most n records.
func (s *RecordSet) Head(n int) *RecordSet {
	out := &RecordSet{LayoutID: s.LayoutID, Fields: s.Fields}
	if n < 0 || n > len(s.Records) {
		n = len(s.Records)
	}
	out.Records = append([]Record(nil), s.Records[:n]...)
	return out
}

// Run status values.
const (
	RunRunning = "running"
	RunSuccess = "success"
	RunError   = "error"
)

// RunLog is the history entry for one extraction run.
type RunLog struct {
	ID         string    `json:"id" bson:"_id"`
	LayoutID   LayoutID  `json:"layoutId" bson:"layout_id"`
	Source     string    `json:"source" bson:"source"`
	Competence string    `json:"competence,omitempty" bson:"competence"`
	StartedAt  time.Time `json:"startedAt" bson:"started_at"`
	FinishedAt time.Time `json:"finishedAt" bson:"finished_at"`
	Status     string    `json:"status" bson:"status"`
	Rows       int       `json:"rows" bson:"rows"`
	Error      string    `json:"error,omitempty" bson:"error"`
}
