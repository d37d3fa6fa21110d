package dispatchevents

import "go.uber.org/multierr"

// MultiEmitter fans a single event out to every configured emitter.
// Each sub-emitter's Emit is expected to be non-blocking and
// fire-and-forget per the EventEmitter contract; MultiEmitter itself adds
// no buffering, it just iterates.
type MultiEmitter struct {
	emitters []EventEmitter
}

// NewMultiEmitter builds a MultiEmitter over the given emitters, in the
// order they will be invoked.
func NewMultiEmitter(emitters ...EventEmitter) *MultiEmitter {
	return &MultiEmitter{emitters: emitters}
}

// Emit forwards event to every sub-emitter.
func (m *MultiEmitter) Emit(event *DispatchEvent) {
	for _, e := range m.emitters {
		e.Emit(event)
	}
}

// Close closes every sub-emitter, combining any errors with multierr (the
// same combinator the dispatcher's own Instance.Close uses for shutdown
// errors).
func (m *MultiEmitter) Close() error {
	var err error
	for _, e := range m.emitters {
		err = multierr.Append(err, e.Close())
	}
	return err
}
