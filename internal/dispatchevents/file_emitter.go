package dispatchevents

import (
	"encoding/json"
	"fmt"
	"io"
	"sync"

	"go.uber.org/zap"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/evenact/dispatch/internal/dispatchlog"
)

// FileEmitterConfig configures a FileEmitter. It reuses
// dispatchlog.RotationConfig rather than a bespoke rotation type, since
// the rotation knobs a log file needs are the same ones an event file
// needs.
type FileEmitterConfig struct {
	Path     string
	Format   string // FormatJSON writes one DispatchEvent per line; anything
	// else is rendered through a TemplateFormatter.
	Template string
	Rotation dispatchlog.RotationConfig
}

// FileEmitter writes events to a rotating file, one line per event, either
// as JSON or through a TemplateFormatter. Emit is fire-and-forget: write
// errors are logged, never returned or panicked on.
type FileEmitter struct {
	mu        sync.Mutex
	out       io.WriteCloser
	format    string
	formatter *TemplateFormatter
	log       *zap.Logger
}

// NewFileEmitter opens (creating and rotating as needed) the file at
// cfg.Path and returns an emitter writing to it.
func NewFileEmitter(cfg FileEmitterConfig, log *zap.Logger) (*FileEmitter, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("dispatchevents: file emitter requires a path")
	}
	if log == nil {
		log = zap.NewNop()
	}

	fe := &FileEmitter{
		out: &lumberjack.Logger{
			Filename:   cfg.Path,
			MaxSize:    cfg.Rotation.MaxSize,
			MaxAge:     cfg.Rotation.MaxAge,
			MaxBackups: cfg.Rotation.MaxBackups,
			Compress:   cfg.Rotation.Compress,
		},
		format: cfg.Format,
		log:    log,
	}

	if cfg.Format != dispatchlog.FormatJSON {
		tmpl := cfg.Template
		if tmpl == "" {
			tmpl = defaultTemplate
		}
		formatter, err := NewTemplateFormatter(tmpl)
		if err != nil {
			return nil, fmt.Errorf("dispatchevents: %w", err)
		}
		fe.formatter = formatter
	}

	return fe, nil
}

// Emit renders and writes event. Never blocks on anything but the file
// write itself; failures are logged at warn and swallowed.
func (fe *FileEmitter) Emit(event *DispatchEvent) {
	var line []byte
	var err error

	if fe.format == dispatchlog.FormatJSON {
		line, err = json.Marshal(event)
		if err == nil {
			line = append(line, '\n')
		}
	} else {
		line = []byte(fe.formatter.Format(event) + "\n")
	}
	if err != nil {
		fe.log.Warn("dispatchevents: encode failed", zap.Error(err), zap.String("event_type", event.EventType))
		return
	}

	fe.mu.Lock()
	_, writeErr := fe.out.Write(line)
	fe.mu.Unlock()
	if writeErr != nil {
		fe.log.Warn("dispatchevents: write failed", zap.Error(writeErr), zap.String("event_type", event.EventType))
	}
}

// Close closes the underlying file.
func (fe *FileEmitter) Close() error {
	fe.mu.Lock()
	defer fe.mu.Unlock()
	return fe.out.Close()
}
