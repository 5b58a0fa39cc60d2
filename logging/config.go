package logging

import (
	"fmt"
	"strings"
	"time"
)

// Config selects sinks and routing limits.
type Config struct {
	EnabledSinks     []string       `json:"enabledSinks" yaml:"enabledSinks"`
	BufferSize       int            `json:"bufferSize" yaml:"bufferSize"`
	MinimumSeverity  Severity       `json:"minimumSeverity" yaml:"minimumSeverity"`
	Fields           map[string]any `json:"fields,omitempty" yaml:"fields,omitempty"`
	JSON             JSONConfig     `json:"json" yaml:"json"`
	Console          ConsoleConfig  `json:"console" yaml:"console"`
	DropWarnInterval time.Duration  `json:"dropWarnInterval" yaml:"dropWarnInterval"`
}

type JSONConfig struct {
	FilePath      string        `json:"filePath" yaml:"filePath"`
	FlushInterval time.Duration `json:"flushInterval" yaml:"flushInterval"`
}

type ConsoleConfig struct {
	Prefix string `json:"prefix" yaml:"prefix"`
}

func DefaultConfig() Config {
	return Config{
		EnabledSinks:     []string{"console"},
		BufferSize:       512,
		MinimumSeverity:  SeverityInfo,
		DropWarnInterval: 5 * time.Second,
		JSON: JSONConfig{
			FlushInterval: 2 * time.Second,
		},
	}
}

// String returns the lowercase severity name.
func (s Severity) String() string {
	switch s {
	case SeverityDebug:
		return "debug"
	case SeverityInfo:
		return "info"
	case SeverityWarn:
		return "warn"
	case SeverityError:
		return "error"
	default:
		return "unknown"
	}
}

// ParseSeverity accepts the names produced by Severity.String.
func ParseSeverity(raw string) (Severity, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "debug":
		return SeverityDebug, nil
	case "info", "":
		return SeverityInfo, nil
	case "warn", "warning":
		return SeverityWarn, nil
	case "error":
		return SeverityError, nil
	}
	return SeverityInfo, fmt.Errorf("unknown severity %q", raw)
}

// MarshalText lets config files spell severities by name.
func (s Severity) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText parses a severity name.
func (s *Severity) UnmarshalText(text []byte) error {
	parsed, err := ParseSeverity(string(text))
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}
