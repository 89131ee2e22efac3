package quality

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/kiranshivaraju/paperforge/internal/config"
)

// ErrQualityThreshold is returned when a strict check still fails after the
// regeneration budget is spent.
var ErrQualityThreshold = errors.New("quality threshold not met")

// Mode is the enforcement policy of an external check.
type Mode string

const (
	ModeOff    Mode = "off"
	ModeSoft   Mode = "soft"
	ModeStrict Mode = "strict"
)

// PolicyCheck pairs a Check with its enforcement mode.
type PolicyCheck struct {
	Check Check
	Mode  Mode
}

// Assessment combines the heuristic report with external check outcomes.
type Assessment struct {
	Report         Report
	SoftFailures   []string
	StrictFailures []string
}

// Passed reports whether the attempt clears the gate: the heuristic report
// passes and no strict check failed. Soft failures never block.
func (a Assessment) Passed() bool {
	return a.Report.Passed && len(a.StrictFailures) == 0
}

// Issues returns every issue to record against the section.
func (a Assessment) Issues() []string {
	issues := append([]string{}, a.Report.Issues...)
	issues = append(issues, a.SoftFailures...)
	issues = append(issues, a.StrictFailures...)
	return issues
}

// Better reports whether a ranks above b when picking the best attempt.
// Clearing strict checks outranks any heuristic score.
func (a Assessment) Better(b Assessment) bool {
	if (len(a.StrictFailures) == 0) != (len(b.StrictFailures) == 0) {
		return len(a.StrictFailures) == 0
	}
	return a.Report.Overall > b.Report.Overall
}

// Gate runs the evaluator and the configured external checks.
type Gate struct {
	evaluator        Evaluator
	checks           []PolicyCheck
	maxRegenerations int
}

func NewGate(maxRegenerations int, checks ...PolicyCheck) *Gate {
	var active []PolicyCheck
	for _, c := range checks {
		if c.Check != nil && c.Mode != ModeOff && c.Mode != "" {
			active = append(active, c)
		}
	}
	if maxRegenerations < 0 {
		maxRegenerations = 0
	}
	return &Gate{checks: active, maxRegenerations: maxRegenerations}
}

// NewGateFromConfig builds the external checks enabled in cfg.
func NewGateFromConfig(cfg config.QualityConfig, timeout time.Duration) *Gate {
	return NewGate(cfg.MaxRegenerations,
		PolicyCheck{Check: NewGrammarCheck(cfg.Grammar.URL, cfg.Grammar.Threshold, timeout), Mode: Mode(cfg.Grammar.Mode)},
		PolicyCheck{Check: NewPlagiarismCheck(cfg.Plagiarism.URL, cfg.Plagiarism.APIKey, cfg.Plagiarism.Threshold, timeout), Mode: Mode(cfg.Plagiarism.Mode)},
		PolicyCheck{Check: NewAIDetectionCheck(cfg.AIDetection.URL, cfg.AIDetection.APIKey, cfg.AIDetection.Threshold, timeout), Mode: Mode(cfg.AIDetection.Mode)},
	)
}

// MaxAttempts is the total number of generation attempts allowed per section.
func (g *Gate) MaxAttempts() int {
	return 1 + g.maxRegenerations
}

// Assess scores one attempt. External check errors are logged and treated
// as the check not having run.
func (g *Gate) Assess(ctx context.Context, text string, targetWords int, language string) Assessment {
	a := Assessment{Report: g.evaluator.Evaluate(text, targetWords)}

	for _, pc := range g.checks {
		res, err := pc.Check.Run(ctx, text, language)
		if err != nil {
			slog.Warn("external quality check failed to run",
				"check", pc.Check.Name(), "mode", pc.Mode, "error", err)
			continue
		}
		if res.Passed {
			continue
		}
		failure := fmt.Sprintf("%s check failed: %s", pc.Check.Name(), res.Detail)
		if pc.Mode == ModeStrict {
			a.StrictFailures = append(a.StrictFailures, failure)
		} else {
			a.SoftFailures = append(a.SoftFailures, failure)
		}
	}
	return a
}
