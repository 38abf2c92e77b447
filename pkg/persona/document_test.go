package persona

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestAuthority_AutonomyRoundTrip(t *testing.T) {
	a := Authority{Autonomy: AutonomySupervised}
	data, err := json.Marshal(a)
	require.NoError(t, err)
	require.Contains(t, string(data), `"autonomy":"supervised"`)

	var back Authority
	require.NoError(t, json.Unmarshal(data, &back))
	require.Equal(t, AutonomySupervised, back.Autonomy)
}

func TestAuthority_UnmarshalRejectsUnknownAutonomy(t *testing.T) {
	var a Authority
	err := json.Unmarshal([]byte(`{"autonomy":"omniscient","actions":{}}`), &a)
	require.Error(t, err)
}

func TestCriteriaLogic_RoundTrip(t *testing.T) {
	c := CriteriaLogic{Mode: LogicAll, Criteria: []Criterion{
		{Metric: "test_pass_rate", Op: OpGte, Value: 0.9},
	}}
	data, err := json.Marshal(c)
	require.NoError(t, err)

	var back CriteriaLogic
	require.NoError(t, json.Unmarshal(data, &back))
	require.Equal(t, LogicAll, back.Mode)
	require.Len(t, back.Criteria, 1)
}

func TestCriteriaLogic_RejectsBothAllAndAny(t *testing.T) {
	var c CriteriaLogic
	err := json.Unmarshal([]byte(`{"all":[{"metric":"x","op":"eq","value":1}],"any":[{"metric":"y","op":"eq","value":2}]}`), &c)
	require.Error(t, err)
}

func TestCriteriaLogic_RejectsNeitherAllNorAny(t *testing.T) {
	var c CriteriaLogic
	err := json.Unmarshal([]byte(`{}`), &c)
	require.Error(t, err)
}
