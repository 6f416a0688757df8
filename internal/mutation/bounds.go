package mutation

import "fmt"

// ParameterBounds constrains one mutable exit parameter.
type ParameterBounds struct {
	Name      string  `yaml:"name" json:"name"`
	Min       float64 `yaml:"min" json:"min"`
	Max       float64 `yaml:"max" json:"max"`
	Default   float64 `yaml:"default" json:"default"`
	IsInteger bool    `yaml:"is_integer" json:"is_integer"`
}

// Clamp limits v to the bounds and reports whether clamping moved it.
func (b ParameterBounds) Clamp(v float64) (float64, bool) {
	if v < b.Min {
		return b.Min, true
	}
	if v > b.Max {
		return b.Max, true
	}
	return v, false
}

// DefaultExitBounds returns the four canonical exit parameters.
func DefaultExitBounds() []ParameterBounds {
	return []ParameterBounds{
		{Name: "stop_loss_pct", Min: 0.01, Max: 0.20, Default: 0.10},
		{Name: "take_profit_pct", Min: 0.02, Max: 0.50, Default: 0.15},
		{Name: "trailing_stop_pct", Min: 0.01, Max: 0.30, Default: 0.05},
		{Name: "max_holding_days", Min: 1, Max: 60, Default: 10, IsInteger: true},
	}
}

// ValidateBounds checks the construction-time invariants: unique names,
// Min < Max, and Default inside the range.
func ValidateBounds(bounds []ParameterBounds) error {
	if len(bounds) == 0 {
		return fmt.Errorf("no parameter bounds configured")
	}
	seen := make(map[string]bool, len(bounds))
	for _, b := range bounds {
		if b.Name == "" {
			return fmt.Errorf("parameter bounds with empty name")
		}
		if seen[b.Name] {
			return fmt.Errorf("duplicate parameter bounds for %q", b.Name)
		}
		seen[b.Name] = true
		if b.Min >= b.Max {
			return fmt.Errorf("parameter %q: min %v must be below max %v", b.Name, b.Min, b.Max)
		}
		if b.Default < b.Min || b.Default > b.Max {
			return fmt.Errorf("parameter %q: default %v outside [%v, %v]", b.Name, b.Default, b.Min, b.Max)
		}
	}
	return nil
}
