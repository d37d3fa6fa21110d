// Package dispatchlog builds the structured zap logger the dispatcher and
// its consumers log through. It supports independent console/file outputs,
// each with its own level, and a runtime level switch so an instance can
// start quiet and force INFO visibility for its own shutdown sequence.
package dispatchlog

const (
	LevelDebug = "debug"
	LevelInfo  = "info"
	LevelWarn  = "warn"
	LevelError = "error"

	FormatConsole = "console"
	FormatJSON    = "json"
	FormatText    = "text"
)

// RotationConfig controls lumberjack log-file rotation.
type RotationConfig struct {
	MaxSize    int  `yaml:"max_size"`
	MaxAge     int  `yaml:"max_age"`
	MaxBackups int  `yaml:"max_backups"`
	Compress   bool `yaml:"compress"`
}

// ConsoleConfig controls the stdout output.
type ConsoleConfig struct {
	Enabled bool   `yaml:"enabled"`
	Level   string `yaml:"level"`
	Format  string `yaml:"format"`
}

// FileConfig controls the rotating-file output.
type FileConfig struct {
	Enabled  bool           `yaml:"enabled"`
	Level    string         `yaml:"level"`
	Format   string         `yaml:"format"`
	Path     string         `yaml:"path"`
	Rotation RotationConfig `yaml:"rotation"`
}

// Config is the logging block of the dispatcher's options tree
// (internal/config.Options.Log).
type Config struct {
	Level   string        `yaml:"level"`
	Console ConsoleConfig `yaml:"console"`
	File    FileConfig    `yaml:"file"`
}

// Default returns a console-only, debug-level configuration suitable for an
// instance that hasn't loaded its own log options yet.
func Default() Config {
	return Config{
		Level: LevelDebug,
		Console: ConsoleConfig{
			Enabled: true,
			Format:  FormatConsole,
		},
		File: FileConfig{
			Enabled: false,
			Format:  FormatText,
		},
	}
}
