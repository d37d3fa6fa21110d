// Package actionerr defines the dispatcher's error taxonomy. Every failure
// the dispatcher produces is a *Error carrying its Kind alongside whatever
// context was available (pattern, plugin, call meta$), so callers can branch
// on errors.Is(err, actionerr.ErrActNotFound) without parsing message text.
package actionerr

import (
	"errors"
	"fmt"
)

// Kind identifies a row of the dispatcher's error taxonomy.
type Kind string

const (
	KindAddEmptyPattern Kind = "add_empty_pattern"
	KindActNotFound     Kind = "act_not_found"
	KindActDefaultBad   Kind = "act_default_bad"
	KindActInvalidMsg   Kind = "act_invalid_msg"
	KindActLoop         Kind = "act_loop"
	KindResultNotObjArr Kind = "result_not_objarr"
	KindActExecute      Kind = "act_execute"
	KindActCallback     Kind = "act_callback"
	KindInstanceClosed  Kind = "instance-closed"
	KindTimeout         Kind = "TIMEOUT"
	KindPluginRequired  Kind = "plugin_required"
	KindExportNotFound  Kind = "export_not_found"
)

// Sentinels for errors.Is comparisons. Error.Is matches on Kind, so any
// *Error constructed with a given Kind satisfies errors.Is against its
// matching sentinel regardless of message/context.
var (
	ErrAddEmptyPattern = &Error{Kind: KindAddEmptyPattern}
	ErrActNotFound     = &Error{Kind: KindActNotFound}
	ErrActDefaultBad   = &Error{Kind: KindActDefaultBad}
	ErrActInvalidMsg   = &Error{Kind: KindActInvalidMsg}
	ErrActLoop         = &Error{Kind: KindActLoop}
	ErrResultNotObjArr = &Error{Kind: KindResultNotObjArr}
	ErrActExecute      = &Error{Kind: KindActExecute}
	ErrActCallback     = &Error{Kind: KindActCallback}
	ErrInstanceClosed  = &Error{Kind: KindInstanceClosed}
	ErrTimeout         = &Error{Kind: KindTimeout}
	ErrPluginRequired  = &Error{Kind: KindPluginRequired}
	ErrExportNotFound  = &Error{Kind: KindExportNotFound}
)

// Plugin identifies the registering plugin block recorded on an action, for
// inclusion in error context (spec §7: "Error values always carry ... plugin
// block").
type Plugin struct {
	Name     string
	Tag      string
	Fullname string
}

// Error is the dispatcher's error value. It always carries Kind and Message;
// Pattern, Plugin and Meta are filled in when known. Orig holds the original
// error being wrapped exactly once — New refuses to double-wrap an *Error.
type Error struct {
	Kind    Kind
	Message string
	Pattern string
	Plugin  Plugin
	Meta    map[string]interface{}
	Orig    error
}

func (e *Error) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("%s: %s", e.Kind, e.Message)
	}
	return string(e.Kind)
}

// Unwrap exposes the original error for errors.Is/errors.As chains.
func (e *Error) Unwrap() error {
	return e.Orig
}

// Is reports equality by Kind, letting callers compare against the package
// sentinels (errors.Is(err, actionerr.ErrActNotFound)) irrespective of the
// context fields attached to a concrete instance.
func (e *Error) Is(target error) bool {
	other, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Kind == other.Kind
}

// New builds a *Error of the given kind. If orig is already a *Error it is
// returned unchanged — errors are re-wrapped once, never doubly wrapped, per
// spec §7.
func New(kind Kind, message string, orig error) *Error {
	var existing *Error
	if errors.As(orig, &existing) {
		return existing
	}
	return &Error{Kind: kind, Message: message, Orig: orig}
}

// WithPattern returns a copy of e with Pattern set.
func (e *Error) WithPattern(pattern string) *Error {
	cp := *e
	cp.Pattern = pattern
	return &cp
}

// WithPlugin returns a copy of e with Plugin set.
func (e *Error) WithPlugin(p Plugin) *Error {
	cp := *e
	cp.Plugin = p
	return &cp
}

// WithMeta returns a copy of e with Meta set.
func (e *Error) WithMeta(meta map[string]interface{}) *Error {
	cp := *e
	cp.Meta = meta
	return &cp
}
