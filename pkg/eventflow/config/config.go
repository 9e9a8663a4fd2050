package config

import (
	"fmt"
	"maps"
	"slices"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds the free-form properties of one processor. The zero value
// is an empty Config. Accessors return the default when the key is missing
// or holds a value of another type.
type Config struct {
	props map[string]any
}

// New wraps props. A nil map yields an empty Config.
func New(props map[string]any) Config {
	return Config{props: props}
}

// Has reports whether key is set.
func (c Config) Has(key string) bool {
	_, ok := c.props[key]
	return ok
}

// Keys returns the property names in sorted order.
func (c Config) Keys() []string {
	return slices.Sorted(maps.Keys(c.props))
}

func (c Config) String(key, def string) string {
	if s, ok := c.props[key].(string); ok {
		return s
	}
	return def
}

func (c Config) Bool(key string, def bool) bool {
	if b, ok := c.props[key].(bool); ok {
		return b
	}
	return def
}

// Int accepts integers and floats without a fractional part.
func (c Config) Int(key string, def int) int {
	n, ok := number(c.props[key])
	if !ok || n != float64(int(n)) {
		return def
	}
	return int(n)
}

func (c Config) Float(key string, def float64) float64 {
	if n, ok := number(c.props[key]); ok {
		return n
	}
	return def
}

// Duration parses strings with time.ParseDuration and reads numbers as
// seconds.
func (c Config) Duration(key string, def time.Duration) time.Duration {
	switch v := c.props[key].(type) {
	case time.Duration:
		return v
	case string:
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
		return def
	}
	if n, ok := number(c.props[key]); ok {
		return time.Duration(n * float64(time.Second))
	}
	return def
}

// StringSlice returns def unless every element is a string.
func (c Config) StringSlice(key string, def []string) []string {
	switch v := c.props[key].(type) {
	case []string:
		return v
	case []any:
		out := make([]string, len(v))
		for i, item := range v {
			s, ok := item.(string)
			if !ok {
				return def
			}
			out[i] = s
		}
		return out
	}
	return def
}

// Sub returns the nested properties under key.
func (c Config) Sub(key string) Config {
	m, _ := c.props[key].(map[string]any)
	return New(m)
}

// Decode copies the properties into out, which must be a pointer to a
// struct with yaml tags.
func (c Config) Decode(out any) error {
	data, err := yaml.Marshal(c.props)
	if err != nil {
		return fmt.Errorf("encode properties: %w", err)
	}
	if err := yaml.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decode properties: %w", err)
	}
	return nil
}

func number(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case float64:
		return n, true
	}
	return 0, false
}
