package criteria

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/ampersona-run/persona-core/pkg/metrics"
	"github.com/ampersona-run/persona-core/pkg/persona"
)

func provider(samples map[string]metrics.Sample) metrics.Provider {
	return metrics.StaticProvider{Samples: samples}
}

func TestEvaluate_AllPasses(t *testing.T) {
	p := provider(map[string]metrics.Sample{
		"test_pass_rate": {Metric: "test_pass_rate", Kind: metrics.KindFloat, Float: 0.95},
		"open_incidents": {Metric: "open_incidents", Kind: metrics.KindInt, Int: 0},
	})
	logic := persona.CriteriaLogic{Mode: persona.LogicAll, Criteria: []persona.Criterion{
		{Metric: "test_pass_rate", Op: persona.OpGte, Value: 0.9},
		{Metric: "open_incidents", Op: persona.OpEq, Value: 0},
	}}
	res, err := Evaluate(context.Background(), p, logic)
	require.NoError(t, err)
	require.True(t, res.Passed)
	require.NotEmpty(t, res.MetricsHash)
}

func TestEvaluate_AllFailsOnOneLeaf(t *testing.T) {
	p := provider(map[string]metrics.Sample{
		"test_pass_rate": {Metric: "test_pass_rate", Kind: metrics.KindFloat, Float: 0.5},
	})
	logic := persona.CriteriaLogic{Mode: persona.LogicAll, Criteria: []persona.Criterion{
		{Metric: "test_pass_rate", Op: persona.OpGte, Value: 0.9},
	}}
	res, err := Evaluate(context.Background(), p, logic)
	require.NoError(t, err)
	require.False(t, res.Passed)
}

func TestEvaluate_AnyPassesOnOneLeaf(t *testing.T) {
	p := provider(map[string]metrics.Sample{
		"a": {Metric: "a", Kind: metrics.KindBool, Bool: false},
		"b": {Metric: "b", Kind: metrics.KindBool, Bool: true},
	})
	logic := persona.CriteriaLogic{Mode: persona.LogicAny, Criteria: []persona.Criterion{
		{Metric: "a", Op: persona.OpEq, Value: true},
		{Metric: "b", Op: persona.OpEq, Value: true},
	}}
	res, err := Evaluate(context.Background(), p, logic)
	require.NoError(t, err)
	require.True(t, res.Passed)
}

func TestEvaluate_MetricsHashDeterministic(t *testing.T) {
	p := provider(map[string]metrics.Sample{
		"test_pass_rate": {Metric: "test_pass_rate", Kind: metrics.KindFloat, Float: 0.95},
	})
	logic := persona.CriteriaLogic{Mode: persona.LogicAll, Criteria: []persona.Criterion{
		{Metric: "test_pass_rate", Op: persona.OpGte, Value: 0.9},
	}}
	r1, err := Evaluate(context.Background(), p, logic)
	require.NoError(t, err)
	r2, err := Evaluate(context.Background(), p, logic)
	require.NoError(t, err)
	require.Equal(t, r1.MetricsHash, r2.MetricsHash)
}

func TestEvaluate_TypeMismatchPropagates(t *testing.T) {
	p := provider(map[string]metrics.Sample{
		"test_pass_rate": {Metric: "test_pass_rate", Kind: metrics.KindFloat, Float: 0.95},
	})
	logic := persona.CriteriaLogic{Mode: persona.LogicAll, Criteria: []persona.Criterion{
		{Metric: "test_pass_rate", Op: persona.OpEq, Value: "not-a-number"},
	}}
	_, err := Evaluate(context.Background(), p, logic)
	require.Error(t, err)
}

func TestEvaluate_MissingMetricPropagatesNotFound(t *testing.T) {
	p := provider(map[string]metrics.Sample{})
	logic := persona.CriteriaLogic{Mode: persona.LogicAll, Criteria: []persona.Criterion{
		{Metric: "absent", Op: persona.OpGte, Value: 1},
	}}
	_, err := Evaluate(context.Background(), p, logic)
	var nf *metrics.NotFoundError
	require.ErrorAs(t, err, &nf)
}
