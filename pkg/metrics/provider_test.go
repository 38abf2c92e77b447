package metrics

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

var errBoom = errors.New("boom")

func TestRegistry_GetMetric_NotFound(t *testing.T) {
	r := NewRegistry()
	_, err := r.GetMetric(context.Background(), Query{Metric: "test_pass_rate"})
	var nf *NotFoundError
	require.ErrorAs(t, err, &nf)
}

func TestRegistry_GetMetric_Found(t *testing.T) {
	r := NewRegistry()
	r.Register("test_pass_rate", StaticProvider{Samples: map[string]Sample{
		"test_pass_rate": {Metric: "test_pass_rate", Kind: KindFloat, Float: 0.97},
	}})
	s, err := r.GetMetric(context.Background(), Query{Metric: "test_pass_rate"})
	require.NoError(t, err)
	require.Equal(t, 0.97, s.Float)
}

func TestRegistry_GetMetric_ContextCanceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	r := NewRegistry()
	_, err := r.GetMetric(ctx, Query{Metric: "x"})
	require.Error(t, err)
}

func TestRegistry_GetMetric_WrapsProviderError(t *testing.T) {
	r := NewRegistry()
	r.Register("flaky", failingProvider{})
	_, err := r.GetMetric(context.Background(), Query{Metric: "flaky"})
	var unavailable *ProviderUnavailableError
	require.ErrorAs(t, err, &unavailable)
}

type failingProvider struct{}

func (failingProvider) GetMetric(context.Context, Query) (Sample, error) {
	return Sample{}, errBoom
}
