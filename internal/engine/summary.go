package engine

import (
	"time"

	"github.com/google/uuid"

	"github.com/anibalchinley/extractor-proveedores/internal/platform"
)

// Progress stages in pipeline order.
const (
	StageLogin   = "login"
	StageExtract = "extract"
	StagePersist = "persist"
	StageSync    = "sync"
	StageDone    = "done"
)

// Progress is one pipeline event, streamed to the trigger surface while a run
// is in flight.
type Progress struct {
	Stage   string    `json:"stage"`
	Company string    `json:"company,omitempty"`
	Message string    `json:"message"`
	At      time.Time `json:"at"`
}

// Sink receives progress events. It is called from the run goroutine and must
// not block for long.
type Sink func(Progress)

// PlatformCount is the per-insurer extraction tally. Error is set when this
// platform was skipped; the run carries on with the remaining platforms.
type PlatformCount struct {
	Company    string `json:"company"`
	Assigned   int    `json:"assigned"`
	Settlement int    `json:"settlement"`
	Error      string `json:"error,omitempty"`
}

// TransitionSummary is a transition record flattened for the JSON summary.
type TransitionSummary struct {
	From     string    `json:"from"`
	To       string    `json:"to"`
	Attempts int       `json:"attempts"`
	Outcome  string    `json:"outcome"`
	At       time.Time `json:"at"`
}

func summarizeTransitions(recs []platform.TransitionRecord) []TransitionSummary {
	if len(recs) == 0 {
		return nil
	}
	out := make([]TransitionSummary, len(recs))
	for i, r := range recs {
		out[i] = TransitionSummary{
			From:     r.From.String(),
			To:       r.To.String(),
			Attempts: r.Attempts,
			Outcome:  r.Outcome.String(),
			At:       r.At,
		}
	}
	return out
}

// RunSummary is the final account of one extraction run.
type RunSummary struct {
	RunID       uuid.UUID           `json:"run_id"`
	Status      string              `json:"status"`
	StartedAt   time.Time           `json:"started_at"`
	Duration    time.Duration       `json:"duration"`
	Platforms   []PlatformCount     `json:"platforms"`
	TotalClaims int                 `json:"total_claims"`
	Created     int                 `json:"created"`
	Skipped     int                 `json:"skipped"`
	Failed      int                 `json:"failed"`
	Transitions []TransitionSummary `json:"transitions,omitempty"`
	Error       string              `json:"error,omitempty"`
}
