// Package criteria evaluates a persona.CriteriaLogic (a flat All/Any
// combination of Criterion) against live metric samples.
//
// Each leaf Criterion is compared in plain Go (comparisons never touch a
// nondeterministic source); the All/Any combinator itself is evaluated
// through a restricted CEL program built only from boolean variables, so
// combination logic runs on the same deterministic-expression engine
// this project uses elsewhere, rather than a second bespoke boolean
// evaluator. The generated program never declares now()/random() or any
// non-bool variable, so it is deterministic by construction rather than
// by scanning user-typed text for banned calls.
package criteria

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"

	"github.com/google/cel-go/cel"

	"github.com/ampersona-run/persona-core/pkg/canonicalize"
	"github.com/ampersona-run/persona-core/pkg/metrics"
	"github.com/ampersona-run/persona-core/pkg/persona"
)

// Result is one gate's criteria evaluation outcome.
type Result struct {
	Passed bool
	MetricsHash string
	Leaves []LeafResult
}

// LeafResult records one Criterion's individual outcome, for audit
// explainability.
type LeafResult struct {
	Criterion persona.Criterion
	Sample metrics.Sample
	Passed bool
}

// Evaluate queries provider for every Criterion in logic, combines the
// per-criterion booleans per logic.Mode via a generated CEL program, and
// returns the combined verdict plus the metrics_hash used for idempotent
// pending-transition matching ("metrics_hash =
// sha256(canonical(sorted metric map))").
func Evaluate(ctx context.Context, provider metrics.Provider, logic persona.CriteriaLogic) (Result, error) {
	leaves := make([]LeafResult, 0, len(logic.Criteria))
	sampleMap := map[string]interface{}{}

	for _, crit := range logic.Criteria {
		sample, err := provider.GetMetric(ctx, metrics.Query{Metric: crit.Metric, WindowSeconds: crit.WindowSeconds})
		if err != nil {
			return Result{}, fmt.Errorf("criteria: metric %q: %w", crit.Metric, err)
		}
		passed, err := compare(sample, crit)
		if err != nil {
			return Result{}, fmt.Errorf("criteria: metric %q: %w", crit.Metric, err)
		}
		leaves = append(leaves, LeafResult{Criterion: crit, Sample: sample, Passed: passed})
		sampleMap[crit.Metric] = sampleValue(sample)
	}

	combined, err := combine(logic.Mode, leaves)
	if err != nil {
		return Result{}, err
	}

	hash, err := metricsHash(sampleMap)
	if err != nil {
		return Result{}, err
	}

	return Result{Passed: combined, MetricsHash: hash, Leaves: leaves}, nil
}

func sampleValue(s metrics.Sample) interface{} {
	switch s.Kind {
	case metrics.KindFloat:
		return s.Float
	case metrics.KindInt:
		return s.Int
	case metrics.KindBool:
		return s.Bool
	default:
		return s.String
	}
}

func compare(s metrics.Sample, c persona.Criterion) (bool, error) {
	switch s.Kind {
	case metrics.KindFloat:
		v, ok := asFloat(c.Value)
		if !ok {
			return false, &metrics.TypeMismatchError{Metric: c.Metric, Expected: metrics.KindFloat, Got: s.Kind}
		}
		return compareOrdered(s.Float, v, c.Op)
	case metrics.KindInt:
		v, ok := asFloat(c.Value)
		if !ok {
			return false, &metrics.TypeMismatchError{Metric: c.Metric, Expected: metrics.KindInt, Got: s.Kind}
		}
		return compareOrdered(float64(s.Int), v, c.Op)
	case metrics.KindBool:
		v, ok := c.Value.(bool)
		if !ok {
			return false, &metrics.TypeMismatchError{Metric: c.Metric, Expected: metrics.KindBool, Got: s.Kind}
		}
		return compareEquality(s.Bool, v, c.Op)
	case metrics.KindString:
		v, ok := c.Value.(string)
		if !ok {
			return false, &metrics.TypeMismatchError{Metric: c.Metric, Expected: metrics.KindString, Got: s.Kind}
		}
		return compareEquality(s.String, v, c.Op)
	default:
		return false, fmt.Errorf("criteria: unknown sample kind %q", s.Kind)
	}
}

func asFloat(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	default:
		return 0, false
	}
}

func compareOrdered(sample, want float64, op persona.CompareOp) (bool, error) {
	switch op {
	case persona.OpEq:
		return sample == want, nil
	case persona.OpNeq:
		return sample != want, nil
	case persona.OpLt:
		return sample < want, nil
	case persona.OpLte:
		return sample <= want, nil
	case persona.OpGt:
		return sample > want, nil
	case persona.OpGte:
		return sample >= want, nil
	default:
		return false, fmt.Errorf("criteria: unsupported op %q", op)
	}
}

func compareEquality[T comparable](sample, want T, op persona.CompareOp) (bool, error) {
	switch op {
	case persona.OpEq:
		return sample == want, nil
	case persona.OpNeq:
		return sample != want, nil
	default:
		return false, fmt.Errorf("criteria: op %q not valid for this metric kind", op)
	}
}

// combine builds "v0 && v1 &&..." or "v0 || v1 ||..." over the leaf
// booleans and evaluates it with cel-go, rather than folding in Go, so
// the combinator runs through the same deterministic-CEL surface as any
// future user-authored boolean expression in this package.
func combine(mode persona.LogicMode, leaves []LeafResult) (bool, error) {
	if len(leaves) == 0 {
		return false, fmt.Errorf("criteria: empty criteria list")
	}

	decls := make([]cel.EnvOption, 0, len(leaves))
	vars := make(map[string]interface{}, len(leaves))
	names := make([]string, len(leaves))
	for i, leaf := range leaves {
		name := fmt.Sprintf("c%d", i)
		decls = append(decls, cel.Variable(name, cel.BoolType))
		vars[name] = leaf.Passed
		names[i] = name
	}

	op := " && "
	if mode == persona.LogicAny {
		op = " || "
	}
	expr := strings.Join(names, op)

	env, err := cel.NewEnv(decls...)
	if err != nil {
		return false, fmt.Errorf("criteria: cel env: %w", err)
	}
	ast, issues := env.Compile(expr)
	if issues != nil && issues.Err() != nil {
		return false, fmt.Errorf("criteria: cel compile: %w", issues.Err())
	}
	prg, err := env.Program(ast)
	if err != nil {
		return false, fmt.Errorf("criteria: cel program: %w", err)
	}
	out, _, err := prg.Eval(vars)
	if err != nil {
		return false, fmt.Errorf("criteria: cel eval: %w", err)
	}
	result, ok := out.Value().(bool)
	if !ok {
		return false, fmt.Errorf("criteria: cel program did not return bool")
	}
	return result, nil
}

func metricsHash(samples map[string]interface{}) (string, error) {
	keys := make([]string, 0, len(samples))
	for k := range samples {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	ordered := make(map[string]interface{}, len(samples))
	for _, k := range keys {
		ordered[k] = samples[k]
	}
	canon, err := canonicalize.JCS(ordered)
	if err != nil {
		return "", fmt.Errorf("criteria: canonicalize metrics: %w", err)
	}
	sum := sha256.Sum256(canon)
	return hex.EncodeToString(sum[:]), nil
}
