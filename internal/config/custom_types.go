// Package config handles application configuration.
package config

import (
	"fmt"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"
)

// Decimal is a fixed-point amount that can be unmarshalled from a YAML
// string or number. Monetary config values go through this type so they
// never pass through a float.
type Decimal struct {
	decimal.Decimal
}

// UnmarshalYAML implements the yaml.Unmarshaler interface for Decimal.
func (d *Decimal) UnmarshalYAML(value *yaml.Node) error {
	switch value.Tag {
	case "!!str", "!!int", "!!float":
		return d.set(value.Value)
	default:
		return fmt.Errorf("cannot unmarshal %s into Decimal", value.Tag)
	}
}

func (d *Decimal) set(s string) error {
	parsed, err := decimal.NewFromString(s)
	if err != nil {
		return fmt.Errorf("cannot parse %q as decimal: %w", s, err)
	}
	d.Decimal = parsed
	return nil
}
