package main

import (
	"github.com/pthm-cable/methdemon/config"
)

// ParamSpec describes one calibrated parameter and how it maps onto a Config.
type ParamSpec struct {
	Name     string // Column name in the evaluation log
	Path     string // YAML path, for reporting
	Min, Max float64

	get func(cfg *config.Config) float64
	set func(cfg *config.Config, v float64)
}

// span is the width of the search interval.
func (s ParamSpec) span() float64 { return s.Max - s.Min }

// ParamVector is the ordered set of calibrated parameters. The optimizer
// works on the unit cube; each coordinate maps linearly onto [Min, Max].
type ParamVector struct {
	Specs []ParamSpec
}

// NewParamVector returns the calibrated parameters: selection strength and
// driver rate, methylation flip rates, and the fission gate.
func NewParamVector() *ParamVector {
	return &ParamVector{Specs: []ParamSpec{
		{
			Name: "s_driver_birth", Path: "fitness.s_driver_birth", Min: 0, Max: 0.5,
			get: func(c *config.Config) float64 { return c.Fitness.SDriverBirth },
			set: func(c *config.Config, v float64) { c.Fitness.SDriverBirth = v },
		},
		{
			Name: "mu_driver_birth", Path: "mutation.mu_driver_birth", Min: 0, Max: 0.05,
			get: func(c *config.Config) float64 { return c.Mutation.MuDriverBirth },
			set: func(c *config.Config, v float64) { c.Mutation.MuDriverBirth = v },
		},
		{
			Name: "meth_rate", Path: "methylation.meth_rate", Min: 0, Max: 0.05,
			get: func(c *config.Config) float64 { return c.Methylation.MethRate },
			set: func(c *config.Config, v float64) { c.Methylation.MethRate = v },
		},
		{
			Name: "demeth_rate", Path: "methylation.demeth_rate", Min: 0, Max: 0.05,
			get: func(c *config.Config) float64 { return c.Methylation.DemethRate },
			set: func(c *config.Config, v float64) { c.Methylation.DemethRate = v },
		},
		{
			Name: "fission_modifier", Path: "fission.modifier", Min: 1, Max: 10,
			get: func(c *config.Config) float64 { return c.Fission.Modifier },
			set: func(c *config.Config, v float64) { c.Fission.Modifier = v },
		},
	}}
}

// Dim returns the number of parameters.
func (pv *ParamVector) Dim() int { return len(pv.Specs) }

// mapEach applies fn to every coordinate of x alongside its spec.
func (pv *ParamVector) mapEach(x []float64, fn func(s ParamSpec, v float64) float64) []float64 {
	out := make([]float64, len(pv.Specs))
	for i, s := range pv.Specs {
		out[i] = fn(s, x[i])
	}
	return out
}

// ToUnit maps raw values onto the unit cube.
func (pv *ParamVector) ToUnit(raw []float64) []float64 {
	return pv.mapEach(raw, func(s ParamSpec, v float64) float64 { return (v - s.Min) / s.span() })
}

// FromUnit maps unit-cube coordinates back to raw values. The result may lie
// outside the bounds; Clamp it before use.
func (pv *ParamVector) FromUnit(unit []float64) []float64 {
	return pv.mapEach(unit, func(s ParamSpec, v float64) float64 { return s.Min + v*s.span() })
}

// Clamp pins raw values to their bounds.
func (pv *ParamVector) Clamp(raw []float64) []float64 {
	return pv.mapEach(raw, func(s ParamSpec, v float64) float64 { return min(max(v, s.Min), s.Max) })
}

// Read returns the current values of every parameter in cfg.
func (pv *ParamVector) Read(cfg *config.Config) []float64 {
	out := make([]float64, len(pv.Specs))
	for i, s := range pv.Specs {
		out[i] = s.get(cfg)
	}
	return out
}

// Apply writes clamped raw values into cfg and refreshes its derived block.
func (pv *ParamVector) Apply(cfg *config.Config, raw []float64) {
	for i, v := range pv.Clamp(raw) {
		pv.Specs[i].set(cfg, v)
	}
	cfg.ComputeDerived()
}
