package rag

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestQueryPlanner_Plan(t *testing.T) {
	gen := newFakeGenerator("").respondTo("Rewrite the query",
		`{"rewritten_query":"vacation policy details","entities":["vacation"],"subqueries":["how many days","carryover rules"]}`)
	p := NewQueryPlanner(gen, "test-model", zap.NewNop())

	plan, err := p.Plan(context.Background(), "vacation?", "")
	require.NoError(t, err)
	assert.Equal(t, "vacation policy details", plan.RewrittenQuery)
	assert.Equal(t, []string{"vacation policy details", "how many days", "carryover rules"}, plan.Queries)
	assert.Equal(t, []string{"vacation"}, plan.Entities)
}

func TestQueryPlanner_ParseFailureDegrades(t *testing.T) {
	gen := newFakeGenerator("totally not json")
	p := NewQueryPlanner(gen, "test-model", zap.NewNop())

	plan, err := p.Plan(context.Background(), "original question", "doc-1")
	require.NoError(t, err)
	assert.Equal(t, "original question", plan.RewrittenQuery)
	assert.Equal(t, []string{"original question"}, plan.Queries)
}

func TestQueryPlanner_SubqueriesCappedAtThree(t *testing.T) {
	gen := newFakeGenerator("").respondTo("Rewrite the query",
		`{"rewritten_query":"r","subqueries":["a","b","c","d","e"]}`)
	p := NewQueryPlanner(gen, "test-model", zap.NewNop())

	plan, err := p.Plan(context.Background(), "q", "")
	require.NoError(t, err)
	assert.Len(t, plan.Subqueries, 3)
	assert.Equal(t, []string{"r", "a", "b", "c"}, plan.Queries)
}

func TestQueryPlanner_DuplicateRewrittenDropped(t *testing.T) {
	gen := newFakeGenerator("").respondTo("Rewrite the query",
		`{"rewritten_query":"same","subqueries":["same","other"]}`)
	p := NewQueryPlanner(gen, "test-model", zap.NewNop())

	plan, err := p.Plan(context.Background(), "q", "")
	require.NoError(t, err)
	assert.Equal(t, []string{"same", "other"}, plan.Queries)
}

func TestQueryPlanner_PlanPropagatesProviderError(t *testing.T) {
	gen := newFakeGenerator("")
	gen.err = genUnavailable
	p := NewQueryPlanner(gen, "test-model", zap.NewNop())

	_, err := p.Plan(context.Background(), "q", "")
	require.Error(t, err)
}

func TestQueryPlanner_Followups(t *testing.T) {
	gen := newFakeGenerator("").respondTo("Generate 2-3 concise follow-up",
		`{"follow_ups":["what about contractors?","is there a cap?"]}`)
	p := NewQueryPlanner(gen, "test-model", zap.NewNop())

	followups, err := p.Followups(context.Background(), "q", "a", "ctx")
	require.NoError(t, err)
	assert.Equal(t, []string{"what about contractors?", "is there a cap?"}, followups)
}

func TestQueryPlanner_FollowupsMalformedDegradesToEmpty(t *testing.T) {
	gen := newFakeGenerator("oops")
	p := NewQueryPlanner(gen, "test-model", zap.NewNop())

	followups, err := p.Followups(context.Background(), "q", "a", "ctx")
	require.NoError(t, err)
	assert.Empty(t, followups)
}

func TestQueryPlanner_FollowupsCappedAtThree(t *testing.T) {
	gen := newFakeGenerator("").respondTo("Generate 2-3 concise follow-up",
		`{"follow_ups":["a","b","c","d"]}`)
	p := NewQueryPlanner(gen, "test-model", zap.NewNop())

	followups, err := p.Followups(context.Background(), "q", "a", "ctx")
	require.NoError(t, err)
	assert.Len(t, followups, 3)
}
