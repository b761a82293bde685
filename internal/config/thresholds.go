package config

import (
	"github.com/MrWong99/meetgraph/internal/identity"
	"github.com/MrWong99/meetgraph/internal/matcher"
)

// Thresholds returns the resolver cut-offs with overrides applied to the
// defaults.
func (m IdentityMatching) Thresholds() identity.Thresholds {
	t := identity.DefaultThresholds()
	override(&t.Automatic, m.Automatic)
	override(&t.Suggest, m.Suggest)
	override(&t.AliasExact, m.AliasExact)
	override(&t.OverlapBoost, m.OverlapBoost)
	override(&t.OverlapCap, m.OverlapCap)
	override(&t.MinOverlapRatio, m.MinOverlapRatio)
	override(&t.FirstLast, m.FirstLast)
	override(&t.Containment, m.Containment)
	return t
}

// Thresholds returns the matcher cut-offs with overrides applied to the
// defaults.
func (m EntityMatching) Thresholds() matcher.Thresholds {
	t := matcher.DefaultThresholds()
	override(&t.AutoLink, m.AutoLink)
	override(&t.Suggest, m.Suggest)
	override(&t.SelfFilter, m.SelfFilter)
	return t
}

func override(dst *float64, v *float64) {
	if v != nil {
		*dst = *v
	}
}
