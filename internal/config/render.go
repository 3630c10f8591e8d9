package config

import (
	"fmt"
	"io"

	"gopkg.in/yaml.v3"
)

const redacted = "[redacted]"

// Redacted returns a copy of c with credentials masked.
func (c Config) Redacted() Config {
	mask := func(s *string) {
		if *s != "" {
			*s = redacted
		}
	}
	mask(&c.TimeTracking.AdminKey)
	mask(&c.Slack.Token)
	mask(&c.Auth.JWTSecret)
	c.Kafka.Brokers = append([]string(nil), c.Kafka.Brokers...)
	return c
}

// Render writes the effective configuration as YAML that Load accepts back.
// Credentials are masked.
func Render(w io.Writer, c *Config) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(c.Redacted()); err != nil {
		return fmt.Errorf("encode config: %w", err)
	}
	return enc.Close()
}
