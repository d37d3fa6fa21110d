package seq

import (
	"fmt"

	"github.com/evenact/dispatch"
)

// Step is one call in a sequence: Pattern selects the action, Args may
// embed "$.path"/"$N.path" references into earlier steps' results,
// resolved against the accumulated StepResult slice before dispatch.
type Step struct {
	Pattern interface{}
	Args    map[string]interface{}
}

// Runner drives a fixed list of Steps through a dispatch.Instance,
// resolving path references between steps. Run drives the whole list;
// Step is the same operation applied one step at a time for callers that
// want to interleave other work between steps. There is no separate Start
// or Wait.
type Runner struct {
	inst *dispatch.Instance
}

// New builds a Runner over inst.
func New(inst *dispatch.Instance) *Runner {
	return &Runner{inst: inst}
}

// Run executes every step in order, resolving each step's Args against the
// results accumulated so far, and stops at the first error.
func (r *Runner) Run(steps []Step) ([]StepResult, error) {
	results := make([]StepResult, 0, len(steps))
	for i, step := range steps {
		res, err := r.Step(step, results)
		results = append(results, res)
		if err != nil {
			return results, fmt.Errorf("seq: step %d failed: %w", i, err)
		}
	}
	return results, nil
}

// Step runs a single step synchronously, resolving its Args against prior
// and returning its StepResult.
func (r *Runner) Step(step Step, prior []StepResult) (StepResult, error) {
	msg := make(dispatch.Message, len(step.Args))
	for k, v := range step.Args {
		msg[k] = Resolve(v, prior)
	}
	if fields, ok := toMessageFields(step.Pattern); ok {
		for k, v := range fields {
			msg[k] = v
		}
	}

	type outcome struct {
		err    error
		result interface{}
	}
	done := make(chan outcome, 1)
	r.inst.Act(msg, dispatch.Done(func(err error, result interface{}) {
		done <- outcome{err, result}
	}))
	o := <-done
	return StepResult{Err: o.err, Result: o.result}, o.err
}

func toMessageFields(pattern interface{}) (map[string]interface{}, bool) {
	switch p := pattern.(type) {
	case map[string]interface{}:
		return p, true
	case dispatch.Message:
		return p, true
	case map[string]string:
		out := make(map[string]interface{}, len(p))
		for k, v := range p {
			out[k] = v
		}
		return out, true
	default:
		return nil, false
	}
}
