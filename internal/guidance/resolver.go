// Package guidance selects the reference documents that contextualize a
// reflection question.
package guidance

import (
	"sort"

	"designgate/internal/domain"
)

type matchKind int

const (
	matchArea matchKind = iota
	matchContext
)

type candidate struct {
	source domain.GuidanceSource
	kind   matchKind
	pos    int
}

// Resolve returns the sources in pool whose guidance_area equals questionKey
// or whose domain_context equals domainContext. Area matches come first, then
// newer updates, then pool order. Empty keys never match. The pool is not
// modified and the result never aliases it.
func Resolve(questionKey, domainContext string, pool []domain.GuidanceSource) []domain.GuidanceSource {
	var matches []candidate
	for i, src := range pool {
		switch {
		case questionKey != "" && src.GuidanceArea == questionKey:
			matches = append(matches, candidate{source: src, kind: matchArea, pos: i})
		case domainContext != "" && src.DomainContext == domainContext:
			matches = append(matches, candidate{source: src, kind: matchContext, pos: i})
		}
	}
	sort.SliceStable(matches, func(i, j int) bool {
		return less(matches[i], matches[j])
	})
	out := make([]domain.GuidanceSource, len(matches))
	for i, m := range matches {
		out[i] = m.source
	}
	return out
}

func less(a, b candidate) bool {
	if a.kind != b.kind {
		return a.kind < b.kind
	}
	au, bu := a.source.Updated, b.source.Updated
	switch {
	case au != nil && bu != nil:
		if !au.Equal(*bu) {
			return au.After(*bu)
		}
	case au != nil:
		return true
	case bu != nil:
		return false
	}
	return a.pos < b.pos
}

// Annotate returns copies of questions with their guidance attached. The
// input questions are left untouched.
func Annotate(questions []domain.Question, domainContext string, pool []domain.GuidanceSource) []domain.Question {
	return annotateWith(questions, func(key string) []domain.GuidanceSource {
		return Resolve(key, domainContext, pool)
	})
}

func annotateWith(questions []domain.Question, resolve func(key string) []domain.GuidanceSource) []domain.Question {
	out := make([]domain.Question, len(questions))
	for i, q := range questions {
		q.GuidanceSources = resolve(q.Key)
		out[i] = q
	}
	return out
}
