package logging

import (
	"fmt"
	"io"
	"os"
	"strings"
)

// Config selects the level, encoding and destination of a Logger. It is
// filled from LOG_* variables by the service and from flags by the CLI.
type Config struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	// Output is stdout, stderr or a file path, appended to
	Output string `yaml:"output"`
}

// DefaultConfig logs JSON at info to stderr
func DefaultConfig() *Config {
	return &Config{Level: "info", Format: "json", Output: "stderr"}
}

// NewLogger builds a Logger from cfg; a nil cfg means DefaultConfig.
func NewLogger(cfg *Config) (*Logger, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	w, err := openOutput(cfg.Output)
	if err != nil {
		return nil, err
	}
	return NewWithFormat(ParseLevel(cfg.Level), w, parseFormat(cfg.Format)), nil
}

var levelNames = map[string]LogLevel{
	"DEBUG":   DebugLevel,
	"INFO":    InfoLevel,
	"WARN":    WarnLevel,
	"WARNING": WarnLevel,
	"ERROR":   ErrorLevel,
	"FATAL":   FatalLevel,
}

// ParseLevel maps a level name, in any case, to a LogLevel. Unknown names
// give InfoLevel.
func ParseLevel(level string) LogLevel {
	if l, ok := levelNames[strings.ToUpper(strings.TrimSpace(level))]; ok {
		return l
	}
	return InfoLevel
}

func parseFormat(format string) Format {
	switch strings.ToLower(format) {
	case "text", "console":
		return TextFormat
	default:
		return JSONFormat
	}
}

func openOutput(output string) (io.Writer, error) {
	switch output {
	case "", "stderr":
		return os.Stderr, nil
	case "stdout":
		return os.Stdout, nil
	}
	f, err := os.OpenFile(output, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open log output: %w", err)
	}
	return f, nil
}
