// Package metrics implements the Metrics Interface: a
// narrow, typed-error query surface gates evaluate against. It never
// caches across ticks, and Registry.GetMetric checks the context before
// each lookup so a cancelled evaluation tick fails closed instead of
// returning a stale sample.
package metrics

import (
	"context"
	"errors"
	"fmt"
)

// Kind is a sample's value type.
type Kind string

const (
	KindFloat Kind = "float"
	KindInt Kind = "int"
	KindBool Kind = "bool"
	KindString Kind = "string"
)

// Sample is one metric reading.
type Sample struct {
	Metric string
	Kind Kind
	Float float64
	Int int64
	Bool bool
	String string
}

// NotFoundError reports that no provider recognizes the queried metric.
type NotFoundError struct{ Metric string }

func (e *NotFoundError) Error() string { return fmt.Sprintf("metrics: %q not found", e.Metric) }

// TypeMismatchError reports that a Criterion compared a sample against a
// literal of an incompatible kind.
type TypeMismatchError struct {
	Metric string
	Expected Kind
	Got Kind
}

func (e *TypeMismatchError) Error() string {
	return fmt.Sprintf("metrics: %q type mismatch: expected %s, got %s", e.Metric, e.Expected, e.Got)
}

// ProviderUnavailableError reports a transient failure reaching a
// metric's backing provider (network, process, etc.).
type ProviderUnavailableError struct {
	Metric string
	Cause error
}

func (e *ProviderUnavailableError) Error() string {
	return fmt.Sprintf("metrics: provider for %q unavailable: %v", e.Metric, e.Cause)
}
func (e *ProviderUnavailableError) Unwrap() error { return e.Cause }

// Query is a single metric lookup, optionally windowed.
type Query struct {
	Metric string
	WindowSeconds int64
}

// Provider supplies metric samples to the Gate Evaluator. Implementations
// must not cache a sample across ticks: each GetMetric call is a fresh
// read.
type Provider interface {
	GetMetric(ctx context.Context, q Query) (Sample, error)
}

// Registry dispatches a query to the provider registered for its metric
// name, or NotFoundError if none is registered.
type Registry struct {
	providers map[string]Provider
}

// NewRegistry returns an empty Registry.
func NewRegistry() *Registry {
	return &Registry{providers: make(map[string]Provider)}
}

// Register binds metric to a provider. A later call for the same metric
// replaces the earlier binding.
func (r *Registry) Register(metric string, p Provider) {
	r.providers[metric] = p
}

// GetMetric resolves and queries the provider for q.Metric.
func (r *Registry) GetMetric(ctx context.Context, q Query) (Sample, error) {
	if err := ctx.Err(); err != nil {
		return Sample{}, fmt.Errorf("metrics: context canceled: %w", err)
	}
	p, ok := r.providers[q.Metric]
	if !ok {
		return Sample{}, &NotFoundError{Metric: q.Metric}
	}
	sample, err := p.GetMetric(ctx, q)
	if err != nil {
		var nf *NotFoundError
		var tm *TypeMismatchError
		if errors.As(err, &nf) || errors.As(err, &tm) {
			return Sample{}, err
		}
		return Sample{}, &ProviderUnavailableError{Metric: q.Metric, Cause: err}
	}
	return sample, nil
}

// StaticProvider serves fixed values, for tests and for the CLI's
// --metrics-json flag.
type StaticProvider struct {
	Samples map[string]Sample
}

func (s StaticProvider) GetMetric(_ context.Context, q Query) (Sample, error) {
	sample, ok := s.Samples[q.Metric]
	if !ok {
		return Sample{}, &NotFoundError{Metric: q.Metric}
	}
	return sample, nil
}
