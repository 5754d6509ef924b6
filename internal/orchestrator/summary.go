package orchestrator

import "time"

// Failure reasons recorded per target.
const (
	ReasonMissingID = "missing_target_id"
	ReasonReplay    = "replay"
	ReasonStatus    = "status"
	ReasonDecode    = "decode"
	ReasonNoRecords = "no_records"
	ReasonPersist   = "persistence"
)

// TargetFailure describes one failed target.
type TargetFailure struct {
	TargetID string `json:"target_id"`
	Reason   string `json:"reason"`
	Error    string `json:"error"`
}

// Summary reports the outcome of one orchestration run. Succeeded+Failed is
// the number of attempted targets; Remaining counts targets left unattempted
// because the run was canceled.
type Summary struct {
	RunID      string          `json:"run_id"`
	Total      int             `json:"total"`
	Succeeded  int             `json:"succeeded"`
	Failed     int             `json:"failed"`
	Skipped    int             `json:"skipped"`
	Remaining  int             `json:"remaining"`
	Items      int             `json:"items"`
	Canceled   bool            `json:"canceled"`
	StartedAt  time.Time       `json:"started_at"`
	FinishedAt time.Time       `json:"finished_at"`
	Failures   []TargetFailure `json:"failures,omitempty"`
}

// Attempted is the number of targets dispatched or rejected in this run.
func (s Summary) Attempted() int {
	return s.Succeeded + s.Failed
}

// Status condenses the run into a metrics label.
func (s Summary) Status() string {
	switch {
	case s.Canceled:
		return "canceled"
	case s.Failed > 0 && s.Succeeded == 0:
		return "failed"
	case s.Failed > 0:
		return "partial"
	default:
		return "succeeded"
	}
}
