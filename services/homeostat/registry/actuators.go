// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package registry holds the two runtime registries of the control
// loop: the immutable actuator catalog and the durable zooid
// population.
//
// Description:
//
//	Actuators answers "may this candidate be applied": it knows every
//	tunable parameter per subsystem and enforces bounds, step grids,
//	and the scope guard. Zooids owns the population lifecycle: spawn,
//	FSM-checked transitions, and state queries, each transition
//	audited and counted.
package registry

import (
	"fmt"
	"sort"

	"github.com/AleutianAI/AleutianHomeostat/services/homeostat/datatypes"
)

// Actuators is the immutable per-subsystem catalog of tunable
// parameters. Built once at startup from configuration; lookups are
// read-only afterwards.
//
// Thread Safety: Safe for concurrent reads after construction.
type Actuators struct {
	specs map[string]map[string]datatypes.ActuatorSpec
	names map[string][]string
}

// NewActuators builds the catalog, validating every spec and rejecting
// duplicate actuator names within a subsystem.
func NewActuators(specs map[string][]datatypes.ActuatorSpec) (*Actuators, error) {
	if len(specs) == 0 {
		return nil, fmt.Errorf("registry: at least one subsystem must declare actuators")
	}

	a := &Actuators{
		specs: make(map[string]map[string]datatypes.ActuatorSpec, len(specs)),
		names: make(map[string][]string, len(specs)),
	}
	for subsystem, list := range specs {
		if subsystem == "" {
			return nil, fmt.Errorf("registry: subsystem name must not be empty")
		}
		if len(list) == 0 {
			return nil, fmt.Errorf("registry: subsystem %s declares no actuators", subsystem)
		}
		bySub := make(map[string]datatypes.ActuatorSpec, len(list))
		for _, spec := range list {
			if err := spec.Validate(); err != nil {
				return nil, fmt.Errorf("registry: %s/%s: %w", subsystem, spec.Name, err)
			}
			if _, dup := bySub[spec.Name]; dup {
				return nil, fmt.Errorf("registry: %s declares actuator %s twice", subsystem, spec.Name)
			}
			bySub[spec.Name] = spec
			a.names[subsystem] = append(a.names[subsystem], spec.Name)
		}
		sort.Strings(a.names[subsystem])
		a.specs[subsystem] = bySub
	}
	return a, nil
}

// Known reports whether a subsystem declares any actuators.
func (a *Actuators) Known(subsystem string) bool {
	_, ok := a.specs[subsystem]
	return ok
}

// Subsystems returns all declared subsystem names, sorted.
func (a *Actuators) Subsystems() []string {
	out := make([]string, 0, len(a.specs))
	for name := range a.specs {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// Spec looks up one actuator of a subsystem.
func (a *Actuators) Spec(subsystem, name string) (datatypes.ActuatorSpec, bool) {
	spec, ok := a.specs[subsystem][name]
	return spec, ok
}

// Specs returns a subsystem's actuators in name order, nil for an
// unknown subsystem.
func (a *Actuators) Specs(subsystem string) []datatypes.ActuatorSpec {
	names := a.names[subsystem]
	if names == nil {
		return nil
	}
	out := make([]datatypes.ActuatorSpec, 0, len(names))
	for _, n := range names {
		out = append(out, a.specs[subsystem][n])
	}
	return out
}

// ValidateCandidate checks a candidate against the catalog and the
// scope guard before any physical resource is touched.
//
// Description:
//
//	Rejects candidates for unknown subsystems or actuators, empty or
//	oversized parameter sets (maxParams is the scope guard), values
//	outside declared bounds, and values off the step grid. Bounds are
//	never silently widened: an out-of-range candidate is an error even
//	when a clamp would make it legal.
func (a *Actuators) ValidateCandidate(c datatypes.Candidate, maxParams int) error {
	bySub, ok := a.specs[c.Subsystem]
	if !ok {
		return &datatypes.ValidationError{Field: "subsystem", Reason: "unknown subsystem " + c.Subsystem}
	}
	if len(c.Params) == 0 {
		return &datatypes.ValidationError{Field: "params", Reason: "candidate changes nothing"}
	}
	if maxParams > 0 && len(c.Params) > maxParams {
		return &datatypes.ValidationError{
			Field:  "params",
			Reason: fmt.Sprintf("%d actuators changed, scope guard allows %d", len(c.Params), maxParams),
		}
	}
	for name, value := range c.Params {
		spec, ok := bySub[name]
		if !ok {
			return &datatypes.ValidationError{Field: name, Reason: "unknown actuator for subsystem " + c.Subsystem}
		}
		if !spec.Contains(value) {
			return datatypes.NewValueError(name, value,
				fmt.Sprintf("outside [%g, %g]", spec.Min, spec.Max))
		}
		if !spec.OnGrid(value) {
			return datatypes.NewValueError(name, value,
				fmt.Sprintf("off the %g step grid", spec.Step))
		}
	}
	return nil
}
