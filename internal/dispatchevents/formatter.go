package dispatchevents

import (
	"fmt"
	"strings"
)

// TemplateFormatter formats a DispatchEvent using a template string, the
// same placeholder-substitution scheme as the teacher's
// events.TemplateFormatter, with the field set trimmed to DispatchEvent's.
type TemplateFormatter struct {
	template     string
	placeholders []placeholder
}

type placeholder struct {
	field string
	start int
	end   int
}

var validFields = map[string]bool{
	"timestamp":     true,
	"instance_id":   true,
	"action_id":     true,
	"tx":            true,
	"event_type":    true,
	"pattern":       true,
	"action_mid":    true,
	"entry":         true,
	"chain_len":     true,
	"duration_ms":   true,
	"error_kind":    true,
	"error_message": true,
}

// NewTemplateFormatter parses and validates the template. Returns an error
// if any placeholder is unknown or the template is empty.
func NewTemplateFormatter(template string) (*TemplateFormatter, error) {
	if template == "" {
		return nil, fmt.Errorf("template cannot be empty")
	}
	placeholders, err := parsePlaceholders(template)
	if err != nil {
		return nil, err
	}
	return &TemplateFormatter{template: template, placeholders: placeholders}, nil
}

func parsePlaceholders(template string) ([]placeholder, error) {
	var placeholders []placeholder
	i := 0
	for i < len(template) {
		start := strings.Index(template[i:], "{")
		if start == -1 {
			break
		}
		start += i

		end := strings.Index(template[start:], "}")
		if end == -1 {
			return nil, fmt.Errorf("unclosed placeholder at position %d", start)
		}
		end += start

		field := template[start+1 : end]
		if field == "" {
			return nil, fmt.Errorf("empty placeholder at position %d", start)
		}
		if !validFields[field] {
			return nil, fmt.Errorf("unknown placeholder {%s}", field)
		}

		placeholders = append(placeholders, placeholder{
			field: field,
			start: start,
			end:   end + 1,
		})
		i = end + 1
	}
	return placeholders, nil
}

// Template returns the original template string.
func (f *TemplateFormatter) Template() string { return f.template }

// Format renders event using the template.
func (f *TemplateFormatter) Format(event *DispatchEvent) string {
	if len(f.placeholders) == 0 {
		return f.template
	}
	result := f.template
	for i := len(f.placeholders) - 1; i >= 0; i-- {
		p := f.placeholders[i]
		value := f.getFieldValue(event, p.field)
		result = result[:p.start] + value + result[p.end:]
	}
	return result
}

func (f *TemplateFormatter) getFieldValue(event *DispatchEvent, field string) string {
	switch field {
	case "timestamp":
		return event.CreatedAt.UTC().Format("2006-01-02T15:04:05.000Z")
	case "instance_id":
		return formatString(event.InstanceID)
	case "action_id":
		return formatString(event.ActionID)
	case "tx":
		return formatString(event.Tx)
	case "event_type":
		return formatString(event.EventType)
	case "pattern":
		return formatString(event.Pattern)
	case "action_mid":
		return formatString(event.ActionMID)
	case "entry":
		return formatBool(event.Entry)
	case "chain_len":
		return fmt.Sprintf("%d", event.ChainLen)
	case "duration_ms":
		return fmt.Sprintf("%d", event.DurationMS)
	case "error_kind":
		return formatString(event.ErrorKind)
	case "error_message":
		return formatString(event.ErrorMsg)
	default:
		return "-"
	}
}

func escapeString(s string) string {
	escaped := strings.ReplaceAll(s, "\\", "\\\\")
	escaped = strings.ReplaceAll(escaped, "\"", "\\\"")
	escaped = strings.ReplaceAll(escaped, "\n", "\\n")
	escaped = strings.ReplaceAll(escaped, "\t", "\\t")
	escaped = strings.ReplaceAll(escaped, "\r", "\\r")
	return escaped
}

func formatString(s string) string {
	if s == "" {
		return "-"
	}
	return "\"" + escapeString(s) + "\""
}

func formatBool(b bool) string {
	if b {
		return "true"
	}
	return "false"
}

// defaultTemplate matches the shape of spec §3's meta$: who, what, when.
const defaultTemplate = "{timestamp}\t{instance_id}\t{event_type}\t{pattern}\t{action_id}\t{tx}\t{entry}\t{duration_ms}\t{error_kind}"
