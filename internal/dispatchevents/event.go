// Package dispatchevents is an audit-log event emitter for a dispatch
// instance's lifecycle: act-in, act-out, act-err, ready and close. It is an
// out-of-core consumer (spec §1 lists logger backends as external
// collaborators) wired up the same way internal/dispatchmetrics is: a host
// calls dispatchevents.Observe(inst, emitter) to subscribe, never reaching
// into the instance's internal packages.
//
// Adapted from the teacher's internal/edge/events package, which built one
// RequestEvent per served HTTP request (cache_hit/render/bypass/error) and
// fanned it out to pluggable emitters (file, multi). The shape here is the
// same: one DispatchEvent per dispatch lifecycle moment, the same
// emitter/formatter/file-rotation plumbing, but the fields describe an
// act() call instead of a rendered page.
package dispatchevents

import "time"

// Event type constants, the dispatcher-lifecycle analogue of the teacher's
// EventTypeCacheHit/EventTypeRender/... constants.
const (
	EventTypeActIn  = "act-in"
	EventTypeActOut = "act-out"
	EventTypeActErr = "act-err"
	EventTypeReady  = "ready"
	EventTypeClose  = "close"
)

// DispatchEvent contains all data for a single dispatcher lifecycle event.
type DispatchEvent struct {
	// Identifiers
	InstanceID string `json:"instance_id"`
	ActionID   string `json:"action_id"`
	Tx         string `json:"tx"`

	// Dispatch metadata
	EventType string `json:"event_type"` // act-in, act-out, act-err, ready, close
	Pattern   string `json:"pattern"`
	ActionMID string `json:"action_mid"` // the resolved action metadata id
	Entry     bool   `json:"entry"`
	ChainLen  int    `json:"chain_len"`

	// Outcome (act-out/act-err only)
	DurationMS int64  `json:"duration_ms"`
	ErrorKind  string `json:"error_kind,omitempty"`
	ErrorMsg   string `json:"error_message,omitempty"`

	CreatedAt time.Time `json:"created_at"`
}
