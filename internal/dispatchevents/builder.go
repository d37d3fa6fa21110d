package dispatchevents

import (
	"time"

	"github.com/evenact/dispatch"
	"github.com/evenact/dispatch/internal/actionerr"
)

// FromCallMeta renders a dispatcher act-in/act-out/act-err moment for cm
// into a DispatchEvent. eventType is one of the EventType* constants;
// err is nil for act-in and successful act-out.
func FromCallMeta(instanceID string, cm *dispatch.CallMeta, eventType string, err error) *DispatchEvent {
	ev := &DispatchEvent{
		InstanceID: instanceID,
		EventType:  eventType,
		CreatedAt:  time.Now(),
	}
	if err != nil {
		if ae, ok := err.(*actionerr.Error); ok {
			ev.ErrorKind = string(ae.Kind)
		} else {
			ev.ErrorKind = "unknown"
		}
		ev.ErrorMsg = err.Error()
	}
	if cm == nil {
		return ev
	}

	ev.ActionID = cm.ID
	ev.Tx = cm.Tx
	ev.Pattern = cm.Pattern
	ev.ActionMID = cm.Action
	ev.Entry = cm.Entry
	ev.ChainLen = len(cm.Chain)
	if !cm.Start.IsZero() {
		ev.DurationMS = time.Since(cm.Start).Milliseconds()
	}
	return ev
}

// ReadyEvent builds the event emitted when an instance's gate goes idle
// for the first time (spec §8's ready$ callback).
func ReadyEvent(instanceID string) *DispatchEvent {
	return &DispatchEvent{
		InstanceID: instanceID,
		EventType:  EventTypeReady,
		CreatedAt:  time.Now(),
	}
}

// CloseEvent builds the event emitted when an instance finishes its
// shutdown sequence, optionally carrying the combined shutdown error.
func CloseEvent(instanceID string, err error) *DispatchEvent {
	ev := &DispatchEvent{
		InstanceID: instanceID,
		EventType:  EventTypeClose,
		CreatedAt:  time.Now(),
	}
	if err != nil {
		ev.ErrorKind = "shutdown"
		ev.ErrorMsg = err.Error()
	}
	return ev
}
