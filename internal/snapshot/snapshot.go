// Package snapshot reads the project records the evaluators work on from
// YAML files. It stands in for the data-fetching layer; the evaluators
// themselves never do I/O.
package snapshot

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"designgate/internal/domain"
	"designgate/internal/gate"
)

// Snapshot is one read of a project's design state.
type Snapshot struct {
	DomainContext  string                        `json:"domain_context,omitempty" yaml:"domain_context"`
	Phases         []domain.Phase                `json:"phases,omitempty" yaml:"phases"`
	Questions      []domain.Question             `json:"questions,omitempty" yaml:"questions"`
	Guidance       []domain.GuidanceSource       `json:"guidance,omitempty" yaml:"guidance"`
	Flags          []domain.QuestionFlag         `json:"flags,omitempty" yaml:"flags"`
	Considerations []domain.EthicalConsideration `json:"considerations,omitempty" yaml:"considerations"`
}

// Validate checks phase invariants and that flags reference known severities.
func (s Snapshot) Validate() error {
	if err := gate.Check(s.Phases); err != nil {
		return fmt.Errorf("phases: %w", err)
	}
	for i, f := range s.Flags {
		switch f.Severity {
		case domain.SeverityLow, domain.SeverityMedium, domain.SeverityHigh:
		default:
			return fmt.Errorf("flags[%d]: invalid severity %q", i, f.Severity)
		}
	}
	for i, c := range s.Considerations {
		if c.ID == "" {
			return fmt.Errorf("considerations[%d]: id is required", i)
		}
	}
	return nil
}

// FromYAML parses and validates a snapshot.
func FromYAML(data []byte) (Snapshot, error) {
	var s Snapshot
	if err := yaml.Unmarshal(data, &s); err != nil {
		return Snapshot{}, fmt.Errorf("invalid snapshot yaml: %w", err)
	}
	if err := s.Validate(); err != nil {
		return Snapshot{}, err
	}
	return s, nil
}

// Load reads a snapshot file.
func Load(path string) (Snapshot, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Snapshot{}, err
	}
	s, err := FromYAML(data)
	if err != nil {
		return Snapshot{}, fmt.Errorf("%s: %w", path, err)
	}
	return s, nil
}

// LoadPool reads a YAML list of guidance sources. A file holding a full
// snapshot is accepted too; its guidance section is used.
func LoadPool(path string) ([]domain.GuidanceSource, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var pool []domain.GuidanceSource
	if err := yaml.Unmarshal(data, &pool); err == nil {
		return pool, nil
	}
	var s Snapshot
	if err := yaml.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("%s: invalid guidance pool yaml: %w", path, err)
	}
	return s.Guidance, nil
}
