package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/JakeFAU/storefront-intel/internal/orchestrator"
	"github.com/JakeFAU/storefront-intel/internal/scoring"
)

// Report is the ranking output over a recent window.
type Report struct {
	GeneratedAt time.Time                   `json:"generated_at"`
	Since       time.Time                   `json:"since"`
	Window      string                      `json:"window"`
	Rows        int                         `json:"rows"`
	Phase       Phase                       `json:"phase,omitempty"`
	Summary     *orchestrator.Summary       `json:"summary,omitempty"`
	TopGrowth   []scoring.Ranked            `json:"top_growth"`
	TopScore    []scoring.Ranked            `json:"top_score"`
	PerTarget   map[string][]scoring.Ranked `json:"per_target"`
}

func (r *Report) attach(s State) {
	r.Phase = s.Phase()
	if summary, ok := s.LastSummary(); ok {
		r.Summary = &summary
	}
}

// Report ranks the rows captured within window of now. n caps the global
// lists; per-target lists use the configured size.
func (e *Engine) Report(ctx context.Context, window time.Duration, n int) (Report, error) {
	if window <= 0 {
		window = e.cfg.Window
	}
	if n <= 0 {
		n = e.cfg.TopN
	}
	now := e.deps.Clock.Now()
	since := now.Add(-window)
	items, err := e.deps.Store.QueryRecent(ctx, since, "")
	if err != nil {
		return Report{}, fmt.Errorf("query recent: %w", err)
	}
	return Report{
		GeneratedAt: now,
		Since:       since,
		Window:      window.String(),
		Rows:        len(items),
		TopGrowth:   scoring.RankByGrowth(items, n),
		TopScore:    scoring.RankByScore(items, n),
		PerTarget:   scoring.RankByTarget(items, e.cfg.PerTargetN),
	}, nil
}
