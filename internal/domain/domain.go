package domain

import "time"

type PhaseStatus string

const (
	PhaseNotStarted PhaseStatus = "not-started"
	PhaseInProgress PhaseStatus = "in-progress"
	PhaseCompleted  PhaseStatus = "completed"
)

// Valid reports whether s is one of the known phase statuses.
func (s PhaseStatus) Valid() bool {
	switch s {
	case PhaseNotStarted, PhaseInProgress, PhaseCompleted:
		return true
	}
	return false
}

type Severity string

const (
	SeverityLow    Severity = "low"
	SeverityMedium Severity = "medium"
	SeverityHigh   Severity = "high"
)

// Severities lists the severity classes from least to most severe.
var Severities = []Severity{SeverityLow, SeverityMedium, SeverityHigh}

type Priority string

const (
	PriorityHigh   Priority = "high"
	PriorityMedium Priority = "medium"
	PriorityLow    Priority = "low"
)

// Rank orders priorities high-first; unknown priorities sort last.
func (p Priority) Rank() int {
	switch p {
	case PriorityHigh:
		return 0
	case PriorityMedium:
		return 1
	case PriorityLow:
		return 2
	}
	return 3
}

type Phase struct {
	ID             string      `json:"id" yaml:"id"`
	Name           string      `json:"name" yaml:"name" required:"false"`
	Status         PhaseStatus `json:"status" yaml:"status" enum:"not-started,in-progress,completed"`
	Progress       int         `json:"progress" yaml:"progress" minimum:"0" maximum:"100" required:"false"`
	TotalSteps     int         `json:"total_steps" yaml:"total_steps" required:"false"`
	CompletedSteps int         `json:"completed_steps" yaml:"completed_steps" required:"false"`
}

// StepProgress derives a 0-100 progress value from the step counters.
func (p Phase) StepProgress() int {
	if p.TotalSteps <= 0 {
		return 0
	}
	steps := p.CompletedSteps
	if steps > p.TotalSteps {
		steps = p.TotalSteps
	}
	if steps < 0 {
		steps = 0
	}
	return steps * 100 / p.TotalSteps
}

type EthicalConsideration struct {
	ID                string   `json:"id" yaml:"id"`
	Title             string   `json:"title,omitempty" yaml:"title"`
	Description       string   `json:"description,omitempty" yaml:"description"`
	Category          string   `json:"category,omitempty" yaml:"category"`
	Priority          Priority `json:"priority,omitempty" yaml:"priority" enum:"high,medium,low"`
	SourceTitle       string   `json:"source_title,omitempty" yaml:"source_title"`
	SourceURL         string   `json:"source_url,omitempty" yaml:"source_url"`
	SourceSection     string   `json:"source_section,omitempty" yaml:"source_section"`
	ActionableSteps   []string `json:"actionable_steps,omitempty" yaml:"actionable_steps"`
	WhyImportant      string   `json:"why_important,omitempty" yaml:"why_important"`
	BeneficiaryImpact string   `json:"beneficiary_impact,omitempty" yaml:"beneficiary_impact"`
	Acknowledged      bool     `json:"acknowledged" yaml:"acknowledged" required:"false"`
}

type GuidanceSource struct {
	Content        string     `json:"content,omitempty" yaml:"content"`
	SourceID       string     `json:"source_id" yaml:"source_id"`
	Filename       string     `json:"filename,omitempty" yaml:"filename"`
	Bucket         string     `json:"bucket,omitempty" yaml:"bucket"`
	Folder         string     `json:"folder,omitempty" yaml:"folder"`
	Domain         string     `json:"domain,omitempty" yaml:"domain"`
	SourceLocation string     `json:"source_location,omitempty" yaml:"source_location"`
	Page           *int       `json:"page,omitempty" yaml:"page"`
	Updated        *time.Time `json:"updated,omitempty" yaml:"updated" format:"date-time"`
	Size           *int64     `json:"size,omitempty" yaml:"size"`
	GuidanceArea   string     `json:"guidance_area,omitempty" yaml:"guidance_area"`
	DomainContext  string     `json:"domain_context,omitempty" yaml:"domain_context"`
}

// Question is a reflection question. GuidanceSources is attached on read and
// never persisted.
type Question struct {
	ID              string           `json:"id" yaml:"id"`
	Text            string           `json:"text,omitempty" yaml:"text"`
	Key             string           `json:"key" yaml:"key"`
	GuidanceSources []GuidanceSource `json:"guidance_sources,omitempty" yaml:"-"`
}

type QuestionFlag struct {
	QuestionKey string   `json:"question_key,omitempty" yaml:"question_key"`
	Issue       string   `json:"issue" yaml:"issue"`
	Severity    Severity `json:"severity" yaml:"severity" enum:"low,medium,high"`
}

type EthicalAssessment struct {
	EthicalScore              float64        `json:"ethical_score"`
	ProceedRecommendation     bool           `json:"proceed_recommendation"`
	Summary                   string         `json:"summary"`
	ActionableRecommendations []string       `json:"actionable_recommendations"`
	QuestionFlags             []QuestionFlag `json:"question_flags"`
	ThresholdMet              bool           `json:"threshold_met"`
	CanProceed                bool           `json:"can_proceed"`
}

// Acknowledgement records that an actor acknowledged an ethical consideration.
type Acknowledgement struct {
	ID              string `json:"id"`
	ConsiderationID string `json:"consideration_id"`
	ActorID         string `json:"actor_id"`
	Note            string `json:"note,omitempty"`
	AcknowledgedAt  string `json:"acknowledged_at" format:"date-time"`
}

type Event struct {
	ID         int64  `json:"id"`
	TS         string `json:"ts" format:"date-time"`
	Type       string `json:"type"`
	EntityKind string `json:"entity_kind"`
	EntityID   string `json:"entity_id,omitempty"`
	ActorID    string `json:"actor_id"`
	Payload    string `json:"payload_json"`
}
