package consideration_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"designgate/internal/consideration"
	"designgate/internal/domain"
)

func items() []domain.EthicalConsideration {
	return []domain.EthicalConsideration{
		{ID: "low-1", Priority: domain.PriorityLow, ActionableSteps: []string{"document"}},
		{ID: "high-1", Priority: domain.PriorityHigh, Acknowledged: true},
		{ID: "med-1", Priority: domain.PriorityMedium},
		{ID: "high-2", Priority: domain.PriorityHigh},
	}
}

func TestApplyUsesStoreOnly(t *testing.T) {
	in := items()
	out := consideration.Apply(in, map[string]bool{"med-1": true})
	require.Len(t, out, 4)
	assert.False(t, out[1].Acknowledged, "loaded flag is ignored")
	assert.True(t, out[2].Acknowledged)
	assert.True(t, in[1].Acknowledged, "input untouched")

	out[0].ActionableSteps[0] = "changed"
	assert.Equal(t, "document", in[0].ActionableSteps[0])
}

func TestPendingOrder(t *testing.T) {
	applied := consideration.Apply(items(), map[string]bool{"high-1": true})
	pending := consideration.Pending(applied)
	var ids []string
	for _, p := range pending {
		ids = append(ids, p.ID)
	}
	assert.Equal(t, []string{"high-2", "med-1", "low-1"}, ids)
}

func TestIDsAndCounts(t *testing.T) {
	in := append(items(), domain.EthicalConsideration{Priority: domain.PriorityLow})
	assert.Equal(t, []string{"low-1", "high-1", "med-1", "high-2"}, consideration.IDs(in))
	counts := consideration.CountByPriority(in)
	assert.Equal(t, 2, counts[domain.PriorityHigh])
	assert.Equal(t, 1, counts[domain.PriorityMedium])
	assert.Equal(t, 2, counts[domain.PriorityLow])
}
