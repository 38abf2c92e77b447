package persona

import (
	"encoding/json"
	"fmt"

	"github.com/ampersona-run/persona-core/pkg/action"
)

// Direction is the phase-transition direction a gate performs.
type Direction string

const (
	DirectionPromote Direction = "promote"
	DirectionDemote Direction = "demote"
)

// Enforcement controls whether a passing gate actually transitions the
// phase (enforce) or only records that it would have (observe).
type Enforcement string

const (
	EnforcementEnforce Enforcement = "enforce"
	EnforcementObserve Enforcement = "observe"
)

// CompareOp is a Criterion's comparison operator.
type CompareOp string

const (
	OpEq CompareOp = "eq"
	OpNeq CompareOp = "neq"
	OpLt CompareOp = "lt"
	OpLte CompareOp = "lte"
	OpGt CompareOp = "gt"
	OpGte CompareOp = "gte"
)

// Criterion is one metric comparison. Window, if set, asks the metrics
// provider for an aggregate over the trailing WindowSeconds rather than
// the instantaneous sample.
type Criterion struct {
	Metric string `json:"metric" yaml:"metric"`
	Op CompareOp `json:"op" yaml:"op"`
	Value interface{} `json:"value" yaml:"value"`
	WindowSeconds int64 `json:"window_seconds,omitempty" yaml:"window_seconds,omitempty"`
}

// LogicMode selects how a CriteriaLogic's Criteria combine.
type LogicMode string

const (
	LogicAll LogicMode = "all"
	LogicAny LogicMode = "any"
)

// CriteriaLogic is a flat All/Any combination of Criterion. Recursive
// nesting is deliberately unsupported: a gate's pass
// condition is always one level of All or Any over leaf comparisons.
type CriteriaLogic struct {
	Mode LogicMode `json:"-" yaml:"-"`
	Criteria []Criterion `json:"-" yaml:"-"`
}

type criteriaWire struct {
	All []Criterion `json:"all,omitempty" yaml:"all,omitempty"`
	Any []Criterion `json:"any,omitempty" yaml:"any,omitempty"`
}

func (c CriteriaLogic) MarshalJSON() ([]byte, error) {
	w := criteriaWire{}
	switch c.Mode {
	case LogicAll:
		w.All = c.Criteria
	case LogicAny:
		w.Any = c.Criteria
	}
	return json.Marshal(w)
}

func (c *CriteriaLogic) UnmarshalJSON(data []byte) error {
	var w criteriaWire
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	return c.fromWire(w)
}

func (c CriteriaLogic) MarshalYAML() (interface{}, error) {
	w := criteriaWire{}
	switch c.Mode {
	case LogicAll:
		w.All = c.Criteria
	case LogicAny:
		w.Any = c.Criteria
	}
	return w, nil
}

func (c *CriteriaLogic) UnmarshalYAML(unmarshal func(interface{}) error) error {
	var w criteriaWire
	if err := unmarshal(&w); err != nil {
		return err
	}
	return c.fromWire(w)
}

func (c *CriteriaLogic) fromWire(w criteriaWire) error {
	switch {
	case len(w.All) > 0 && len(w.Any) > 0:
		return fmt.Errorf("persona: criteria must specify exactly one of all/any, not both")
	case len(w.All) > 0:
		c.Mode, c.Criteria = LogicAll, w.All
	case len(w.Any) > 0:
		c.Mode, c.Criteria = LogicAny, w.Any
	default:
		return fmt.Errorf("persona: criteria must specify all or any")
	}
	return nil
}

// AuthorityOverlay is a strictly-posterior patch applied to the resolved
// authority on a successful enforced gate. Unlike the
// ordinary layer merge, fields set here REPLACE rather than intersect —
// it is the only mechanism allowed to expand permissions beyond what the
// persona document itself grants.
type AuthorityOverlay struct {
	Autonomy *Autonomy `json:"-" yaml:"-"`
	Scope *Scope `json:"scope,omitempty" yaml:"scope,omitempty"`
	Allow []action.ID `json:"allow,omitempty" yaml:"allow,omitempty"`
	Deny []DenyEntry `json:"deny,omitempty" yaml:"deny,omitempty"`
	Limits *Limits `json:"limits,omitempty" yaml:"limits,omitempty"`
}

type overlayWire struct {
	Autonomy string `json:"autonomy,omitempty" yaml:"autonomy,omitempty"`
	Scope *Scope `json:"scope,omitempty" yaml:"scope,omitempty"`
	Allow []action.ID `json:"allow,omitempty" yaml:"allow,omitempty"`
	Deny []DenyEntry `json:"deny,omitempty" yaml:"deny,omitempty"`
	Limits *Limits `json:"limits,omitempty" yaml:"limits,omitempty"`
}

func (o AuthorityOverlay) MarshalJSON() ([]byte, error) {
	w := overlayWire{Scope: o.Scope, Allow: o.Allow, Deny: o.Deny, Limits: o.Limits}
	if o.Autonomy != nil {
		w.Autonomy = o.Autonomy.String()
	}
	return json.Marshal(w)
}

func (o *AuthorityOverlay) UnmarshalJSON(data []byte) error {
	var w overlayWire
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	*o = AuthorityOverlay{Scope: w.Scope, Allow: w.Allow, Deny: w.Deny, Limits: w.Limits}
	if w.Autonomy != "" {
		auto, ok := ParseAutonomy(w.Autonomy)
		if !ok {
			return fmt.Errorf("persona: unknown autonomy %q in overlay", w.Autonomy)
		}
		o.Autonomy = &auto
	}
	return nil
}

// OnPass names the effect applied when a gate's criteria pass and it is
// approved.
type OnPass struct {
	AuthorityOverlay *AuthorityOverlay `json:"authority_overlay,omitempty" yaml:"authority_overlay,omitempty"`
}

// Gate is one phase-transition rule.
type Gate struct {
	ID string `json:"id" yaml:"id"`
	Direction Direction `json:"direction" yaml:"direction"`
	Enforcement Enforcement `json:"enforcement" yaml:"enforcement"`
	Priority int `json:"priority" yaml:"priority"`
	CooldownSeconds int64 `json:"cooldown_seconds,omitempty" yaml:"cooldown_seconds,omitempty"`
	FromPhase string `json:"from_phase" yaml:"from_phase"`
	ToPhase string `json:"to_phase" yaml:"to_phase"`
	Criteria CriteriaLogic `json:"criteria" yaml:"criteria"`
	Approval ApprovalKind `json:"approval" yaml:"approval"`
	QuorumSize int `json:"quorum_size,omitempty" yaml:"quorum_size,omitempty"`
	OnPass OnPass `json:"on_pass,omitempty" yaml:"on_pass,omitempty"`
}
