package dispatchevents

import (
	"github.com/evenact/dispatch"
	"github.com/evenact/dispatch/internal/subscription"
)

// Observe wires emitter to inst's act-in and act-out subscription bus,
// the same pattern internal/dispatchmetrics.Observe uses, so every call
// produces one act-out/act-err event, preceded by an act-in event when the
// call resolved to a registered action; a call that resolves to none (not
// found, default$, or rejected because the instance is closed) produces no
// act-in event. Ready
// and close events are not fired from here: a host calls ReadyEvent/
// CloseEvent from its own inst.Ready/inst.Close callbacks, since those
// are one-shot lifecycle hooks rather than per-call subscriptions.
func Observe(inst *dispatch.Instance, emitter EventEmitter) {
	inst.Sub(map[string]string{}, subscription.Direction{In: true}, func(msg map[string]interface{}) {
		cm, _ := msg[dispatch.KeyMeta].(*dispatch.CallMeta)
		emitter.Emit(FromCallMeta(inst.ID(), cm, EventTypeActIn, nil))
	})

	inst.Sub(map[string]string{}, subscription.Direction{Out: true}, func(msg map[string]interface{}) {
		cm, _ := msg[dispatch.KeyMeta].(*dispatch.CallMeta)

		errVal, failed := msg["err"]
		if !failed {
			emitter.Emit(FromCallMeta(inst.ID(), cm, EventTypeActOut, nil))
			return
		}
		err, _ := errVal.(error)
		emitter.Emit(FromCallMeta(inst.ID(), cm, EventTypeActErr, err))
	})
}
