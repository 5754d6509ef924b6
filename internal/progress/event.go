package progress

import (
	"errors"
	"fmt"
	"time"
)

// Stage denotes the type of milestone represented by an Event.
type Stage string

// Supported progress stages.
const (
	StageRunStart    Stage = "RUN_START"
	StageTargetStart Stage = "TARGET_START"
	StageTargetDone  Stage = "TARGET_DONE"
	StageTargetError Stage = "TARGET_ERROR"
	StageTargetSkip  Stage = "TARGET_SKIP"
	StageRunDone     Stage = "RUN_DONE"
)

// Event is one orchestration milestone.
type Event struct {
	// RunID identifies the orchestration run.
	RunID string
	// TS is the UTC timestamp recorded by the emitter.
	TS time.Time
	// Stage denotes which milestone occurred.
	Stage Stage
	// TargetID scopes target stages. It may be empty on TARGET_ERROR when
	// the enumerated target had no id.
	TargetID string
	// Items is the number of metric rows committed for TARGET_DONE, or the
	// number of targets for RUN_START.
	Items int
	// Dur captures latency for target completions and whole runs.
	Dur time.Duration
	// Note carries short context such as error text.
	Note string
}

// Validate performs coarse validation on Event payloads.
func (e Event) Validate() error {
	if e.RunID == "" {
		return errors.New("run id is required")
	}
	if e.TS.IsZero() {
		return errors.New("timestamp is required")
	}
	switch e.Stage {
	case StageRunStart, StageRunDone, StageTargetError:
	case StageTargetStart, StageTargetDone, StageTargetSkip:
		if e.TargetID == "" {
			return fmt.Errorf("%s requires target id", e.Stage)
		}
	default:
		return fmt.Errorf("unknown stage %q", e.Stage)
	}
	if e.Dur < 0 {
		return errors.New("duration must be >= 0")
	}
	if e.Items < 0 {
		return errors.New("items must be >= 0")
	}
	return nil
}

// IsTarget reports whether the stage is scoped to one target.
func (s Stage) IsTarget() bool {
	switch s {
	case StageTargetStart, StageTargetDone, StageTargetError, StageTargetSkip:
		return true
	}
	return false
}
