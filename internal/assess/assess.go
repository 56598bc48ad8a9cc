// Package assess folds per-question ethical flags into a project-level
// assessment.
//
// The score starts at 100 and loses the policy weight of every flag,
// clamped to [0,100]. The threshold decides threshold_met; a single
// high-severity flag additionally vetoes the proceed recommendation.
package assess

import (
	"errors"
	"fmt"
	"math"
	"strconv"

	"designgate/internal/domain"
)

const (
	MaxScore = 100.0
	MinScore = 0.0
)

var (
	// ErrInvalidPolicy is matched by every ConfigError.
	ErrInvalidPolicy = errors.New("invalid scoring policy")
	// ErrUnknownSeverity is returned for a flag whose severity the policy cannot weigh.
	ErrUnknownSeverity = errors.New("unknown flag severity")
)

// ConfigError reports an invalid scoring policy.
type ConfigError struct {
	Field   string
	Message string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("scoring policy %s: %s", e.Field, e.Message)
}

func (e *ConfigError) Is(target error) bool { return target == ErrInvalidPolicy }

// Policy weighs flag severities and sets the pass bar.
type Policy struct {
	Weights       map[domain.Severity]float64 `json:"weights" yaml:"weights"`
	PassThreshold float64                     `json:"pass_threshold" yaml:"pass_threshold"`
}

// DefaultPolicy returns the built-in weights and threshold. They are a
// reasonable starting point, not a calibrated standard.
func DefaultPolicy() Policy {
	return Policy{
		Weights: map[domain.Severity]float64{
			domain.SeverityLow:    2,
			domain.SeverityMedium: 6,
			domain.SeverityHigh:   15,
		},
		PassThreshold: 70,
	}
}

// Validate checks the threshold range and that every severity has a
// non-negative weight.
func (p Policy) Validate() error {
	if math.IsNaN(p.PassThreshold) || p.PassThreshold < MinScore || p.PassThreshold > MaxScore {
		return &ConfigError{Field: "pass_threshold", Message: fmt.Sprintf("%s outside [0,100]", formatScore(p.PassThreshold))}
	}
	for _, sev := range domain.Severities {
		w, ok := p.Weights[sev]
		if !ok {
			return &ConfigError{Field: "weights." + string(sev), Message: "not set"}
		}
		if w < 0 || math.IsNaN(w) {
			return &ConfigError{Field: "weights." + string(sev), Message: fmt.Sprintf("invalid weight %s", formatScore(w))}
		}
	}
	for sev, w := range p.Weights {
		if w < 0 || math.IsNaN(w) {
			return &ConfigError{Field: "weights." + string(sev), Message: fmt.Sprintf("invalid weight %s", formatScore(w))}
		}
	}
	return nil
}

// Weight returns the weight for a severity.
func (p Policy) Weight(sev domain.Severity) (float64, bool) {
	w, ok := p.Weights[sev]
	return w, ok
}

// Assess computes the ethical assessment of flags. A nil policy uses
// DefaultPolicy. The flags slice is copied into the result.
func Assess(flags []domain.QuestionFlag, policy *Policy) (domain.EthicalAssessment, error) {
	p := DefaultPolicy()
	if policy != nil {
		p = *policy
	}
	if err := p.Validate(); err != nil {
		return domain.EthicalAssessment{}, err
	}

	penalty := 0.0
	vetoed := false
	for i, f := range flags {
		w, ok := p.Weight(f.Severity)
		if !ok {
			return domain.EthicalAssessment{}, fmt.Errorf("flag %d (%s): %w %q", i, f.QuestionKey, ErrUnknownSeverity, f.Severity)
		}
		penalty += w
		if f.Severity == domain.SeverityHigh {
			vetoed = true
		}
	}

	score := clamp(MaxScore - penalty)
	thresholdMet := score >= p.PassThreshold
	proceed := thresholdMet && !vetoed

	copied := make([]domain.QuestionFlag, len(flags))
	copy(copied, flags)

	return domain.EthicalAssessment{
		EthicalScore:              score,
		ProceedRecommendation:     proceed,
		Summary:                   summarize(score, len(flags), p.PassThreshold, thresholdMet, proceed, vetoed),
		ActionableRecommendations: recommendations(flags),
		QuestionFlags:             copied,
		ThresholdMet:              thresholdMet,
		CanProceed:                proceed,
	}, nil
}

// Override returns a copy of a with CanProceed forced to true, as after a
// manual review. ProceedRecommendation keeps the computed value.
func Override(a domain.EthicalAssessment) domain.EthicalAssessment {
	a.CanProceed = true
	return a
}

func clamp(v float64) float64 {
	if v < MinScore {
		return MinScore
	}
	if v > MaxScore {
		return MaxScore
	}
	return v
}

// recommendations maps each flag to a remediation phrase, keeping the first
// flag for every distinct issue.
func recommendations(flags []domain.QuestionFlag) []string {
	out := make([]string, 0, len(flags))
	seen := make(map[string]struct{}, len(flags))
	for _, f := range flags {
		if _, ok := seen[f.Issue]; ok {
			continue
		}
		seen[f.Issue] = struct{}{}
		out = append(out, remediation(f))
	}
	return out
}

func remediation(f domain.QuestionFlag) string {
	var verb string
	switch f.Severity {
	case domain.SeverityHigh:
		verb = "Resolve before proceeding"
	case domain.SeverityMedium:
		verb = "Address"
	default:
		verb = "Review"
	}
	if f.QuestionKey == "" {
		return fmt.Sprintf("%s: %s", verb, f.Issue)
	}
	return fmt.Sprintf("%s (%s): %s", verb, f.QuestionKey, f.Issue)
}

func summarize(score float64, flagCount int, threshold float64, thresholdMet, proceed, vetoed bool) string {
	var outcome string
	switch {
	case proceed:
		outcome = "proceed recommended"
	case vetoed && thresholdMet:
		outcome = "blocked by high-severity flag"
	default:
		outcome = "below threshold " + formatScore(threshold)
	}
	return fmt.Sprintf("Ethical score %s/100 with %d flagged issue(s); %s.", formatScore(score), flagCount, outcome)
}

func formatScore(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
