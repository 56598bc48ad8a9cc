package server

import (
	"designgate/internal/assess"
	"designgate/internal/domain"
	"designgate/internal/engine"
	"designgate/internal/gate"
	"designgate/internal/snapshot"
)

type PhaseUnlockRequest struct {
	Phases []domain.Phase `json:"phases"`
	Index  int            `json:"index"`
}

type PhaseUnlockResponse struct {
	Index    int  `json:"index"`
	Unlocked bool `json:"unlocked"`
}

type PhaseStatesRequest struct {
	Phases []domain.Phase `json:"phases"`
}

type PhaseStatesResponse struct {
	States  []gate.PhaseState `json:"states"`
	Current int               `json:"current"`
}

type GuidanceResolveRequest struct {
	QuestionKey   string                  `json:"question_key"`
	DomainContext string                  `json:"domain_context,omitempty"`
	Pool          []domain.GuidanceSource `json:"pool,omitempty" doc:"Guidance pool; the server pool is used when omitted"`
}

type GuidanceResolveResponse struct {
	Sources []domain.GuidanceSource `json:"sources"`
}

type AssessmentRequest struct {
	Flags    []domain.QuestionFlag `json:"flags"`
	Policy   *assess.Policy        `json:"policy,omitempty" doc:"Scoring policy; the server policy is used when omitted"`
	Override bool                  `json:"override,omitempty" doc:"Force can_proceed after manual review"`
}

type AssessmentResponse = domain.EthicalAssessment

type EvaluateRequest = snapshot.Snapshot

type EvaluateResponse = engine.Report

type AcknowledgeRequest struct {
	Note string `json:"note,omitempty"`
}

type AcknowledgementResponse = domain.Acknowledgement

type AcknowledgementsResponse struct {
	Items []domain.Acknowledgement `json:"items"`
}

type EventsResponse struct {
	Items []domain.Event `json:"items"`
}
