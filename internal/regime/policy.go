package regime

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Policy is the resolved risk posture for a composite regime key.
type Policy struct {
	SizeMult float64  `yaml:"size_mult"`
	StopMult float64  `yaml:"stop_mult"`
	Orders   []string `yaml:"orders"`
	Setups   []string `yaml:"setups"`
	GrossCap float64  `yaml:"gross_cap"`
	Pyramids int      `yaml:"pyramids"`
}

// PolicyTable maps a composite key (l0|l1|l2) to its base Policy.
type PolicyTable map[string]Policy

// DefaultPolicyTable is the built-in mapping before any YAML overlay is
// applied. It holds five composite keys; Resolve reports ok=false with a
// zero Policy for any other key the overlay does not define.
func DefaultPolicyTable() PolicyTable {
	return PolicyTable{
		"bull|risk_on|trending_up":     {SizeMult: 1.0, StopMult: 1.0, Orders: []string{"market", "limit", "stop"}, Setups: []string{"breakout", "pullback"}, GrossCap: 1.0, Pyramids: 2},
		"bull|risk_on|choppy":          {SizeMult: 0.75, StopMult: 1.1, Orders: []string{"limit"}, Setups: []string{"pullback"}, GrossCap: 0.8, Pyramids: 1},
		"bear|risk_off|trending_down":  {SizeMult: 0.5, StopMult: 1.5, Orders: []string{"limit"}, Setups: []string{"breakdown"}, GrossCap: 0.5, Pyramids: 0},
		"transition|neutral|choppy":    {SizeMult: 0.4, StopMult: 1.75, Orders: []string{"limit"}, Setups: []string{}, GrossCap: 0.3, Pyramids: 0},
		"proxy_neutral|proxy_neutral|proxy_neutral": {SizeMult: 0.25, StopMult: 2.0, Orders: []string{}, Setups: []string{}, GrossCap: 0.2, Pyramids: 0},
	}
}

// LoadOverlay reads an optional YAML overlay letting operators override
// selected policy keys without a code change.
func LoadOverlay(path string) (PolicyTable, error) {
	if path == "" {
		return nil, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("load regime policy overlay: %w", err)
	}
	var overlay PolicyTable
	if err := yaml.Unmarshal(data, &overlay); err != nil {
		return nil, fmt.Errorf("parse regime policy overlay: %w", err)
	}
	return overlay, nil
}

// Resolve looks up the composite key's base policy, replaces it wholesale
// with the overlay's entry when one exists, and returns it alongside the
// key and whether either table had the key.
func Resolve(base PolicyTable, overlay PolicyTable, l0, l1, l2 string) (key string, policy Policy, ok bool) {
	key = fmt.Sprintf("%s|%s|%s", l0, l1, l2)
	policy, ok = base[key]
	if override, hasOverride := overlay[key]; hasOverride {
		policy = override
		ok = true
	}
	return key, policy, ok
}

// FeatureTier classifies how much of the feature set is trusted given
// which layers are enabled, driving which signal generators may fire.
func FeatureTier(enabled map[Layer]bool) string {
	switch {
	case enabled[LayerL0] && enabled[LayerL1] && enabled[LayerL2]:
		return "full"
	case enabled[LayerL1] && enabled[LayerL2]:
		return "partial"
	case enabled[LayerL2]:
		return "minimal"
	default:
		return "degraded"
	}
}

// IsTightening reports whether moving from `from` to `to` is a
// tightening change: smaller size_mult OR larger stop_mult. This is the
// only entry point hysteresis uses to judge a candidate transition,
// keeping it decoupled from policy internals.
func IsTightening(from, to Policy) bool {
	return to.SizeMult < from.SizeMult || to.StopMult > from.StopMult
}

// ResolveStrictest implements the tighten-only combination rule when
// multiple layers independently contribute policy fragments: pick the
// strictest across dimensions (min size_mult, max stop_mult,
// intersection of allowed orders/setups).
func ResolveStrictest(policies ...Policy) Policy {
	if len(policies) == 0 {
		return Policy{}
	}
	out := policies[0]
	for _, p := range policies[1:] {
		if p.SizeMult < out.SizeMult {
			out.SizeMult = p.SizeMult
		}
		if p.StopMult > out.StopMult {
			out.StopMult = p.StopMult
		}
		if p.GrossCap < out.GrossCap {
			out.GrossCap = p.GrossCap
		}
		if p.Pyramids < out.Pyramids {
			out.Pyramids = p.Pyramids
		}
		out.Orders = intersect(out.Orders, p.Orders)
		out.Setups = intersect(out.Setups, p.Setups)
	}
	return out
}

func intersect(a, b []string) []string {
	set := make(map[string]bool, len(b))
	for _, v := range b {
		set[v] = true
	}
	var out []string
	for _, v := range a {
		if set[v] {
			out = append(out, v)
		}
	}
	return out
}
