// Package quality evaluates per-shot quality predicates.
// Predicates are user supplied {column, op, value} conditions rather than a
// hardcoded list, with a stock profile matching the L2A release notes
package quality

import (
	"fmt"
	"strings"

	perr "gedigo/internal/platform/errors"
)

// Op is a comparison operator applied to one shot column
type Op string

// Supported operators
const (
	OpEq      Op = "eq"
	OpNe      Op = "ne"
	OpLt      Op = "lt"
	OpLte     Op = "lte"
	OpGt      Op = "gt"
	OpGte     Op = "gte"
	OpIn      Op = "in"
	OpBetween Op = "between" // closed on both ends unless Min/MaxOpen set
)

// Condition is a single predicate against a named shot column.
// Between uses Min/Max; In uses Values; everything else uses Value
type Condition struct {
	Column  string    `json:"column"            validate:"required"`
	Op      Op        `json:"op"                validate:"required,oneof=eq ne lt lte gt gte in between"`
	Value   float64   `json:"value,omitempty"`
	Values  []float64 `json:"values,omitempty"`
	Min     float64   `json:"min,omitempty"`
	Max     float64   `json:"max,omitempty"`
	MinOpen bool      `json:"min_open,omitempty"`
	MaxOpen bool      `json:"max_open,omitempty"`
}

// Lookup resolves a column name to its numeric value for one shot.
// ok=false means the column is absent for this record
type Lookup func(column string) (v float64, ok bool)

// Eval applies the condition. A missing column rejects the shot; silently
// passing records we could not inspect would leak unvetted data downstream
func (c Condition) Eval(get Lookup) bool {
	v, ok := get(c.Column)
	if !ok {
		return false
	}
	switch c.Op {
	case OpEq:
		return v == c.Value
	case OpNe:
		return v != c.Value
	case OpLt:
		return v < c.Value
	case OpLte:
		return v <= c.Value
	case OpGt:
		return v > c.Value
	case OpGte:
		return v >= c.Value
	case OpIn:
		for _, want := range c.Values {
			if v == want {
				return true
			}
		}
		return false
	case OpBetween:
		if c.MinOpen {
			if v <= c.Min {
				return false
			}
		} else if v < c.Min {
			return false
		}
		if c.MaxOpen {
			return v < c.Max
		}
		return v <= c.Max
	default:
		return false
	}
}

// Validate rejects conditions the evaluator cannot run
func (c Condition) Validate() error {
	if strings.TrimSpace(c.Column) == "" {
		return perr.New(perr.ErrorCodeValidation, "quality: condition missing column")
	}
	switch c.Op {
	case OpEq, OpNe, OpLt, OpLte, OpGt, OpGte:
		return nil
	case OpIn:
		if len(c.Values) == 0 {
			return perr.Newf(perr.ErrorCodeValidation, "quality: %s: in needs values", c.Column)
		}
		return nil
	case OpBetween:
		if c.Max < c.Min {
			return perr.Newf(perr.ErrorCodeValidation, "quality: %s: between max < min", c.Column)
		}
		return nil
	default:
		return perr.Newf(perr.ErrorCodeValidation, "quality: %s: unknown op %q", c.Column, c.Op)
	}
}

func (c Condition) String() string {
	switch c.Op {
	case OpIn:
		return fmt.Sprintf("%s in %v", c.Column, c.Values)
	case OpBetween:
		lo, hi := "[", "]"
		if c.MinOpen {
			lo = "("
		}
		if c.MaxOpen {
			hi = ")"
		}
		return fmt.Sprintf("%s between %s%g,%g%s", c.Column, lo, c.Min, c.Max, hi)
	default:
		return fmt.Sprintf("%s %s %g", c.Column, c.Op, c.Value)
	}
}

// Profile is an AND-combined set of conditions
type Profile []Condition

// Eval reports whether the shot passes every condition
func (p Profile) Eval(get Lookup) bool {
	for _, c := range p {
		if !c.Eval(get) {
			return false
		}
	}
	return true
}

// Validate checks every condition
func (p Profile) Validate() error {
	for _, c := range p {
		if err := c.Validate(); err != nil {
			return err
		}
	}
	return nil
}

// degradeAccepted are the degrade_flag states still usable for science
// products (nominal pointing, acceptable orbital/attitude degradation)
var degradeAccepted = []float64{0, 3, 8, 10, 13, 18, 20, 23, 28, 30, 33, 38, 40, 43, 48, 60, 63, 68}

// L2A returns the stock quality profile for L2A elevation/height granules.
// elev_dem_offset is the reader-derived elev_lowestmode minus reference DEM
func L2A() Profile {
	return Profile{
		{Column: "quality_flag", Op: OpEq, Value: 1},
		{Column: "sensitivity_a0", Op: OpBetween, Min: 0.9, Max: 1.0},
		{Column: "sensitivity_a2", Op: OpBetween, Min: 0.95, Max: 1.0, MinOpen: true},
		{Column: "degrade_flag", Op: OpIn, Values: degradeAccepted},
		{Column: "surface_flag", Op: OpEq, Value: 1},
		{Column: "rh_100", Op: OpBetween, Min: 0, Max: 120, MaxOpen: true},
		{Column: "elev_dem_offset", Op: OpBetween, Min: -150, Max: 150, MinOpen: true, MaxOpen: true},
	}
}
