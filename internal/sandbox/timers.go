package sandbox

import (
	"time"

	"github.com/dop251/goja"
)

// timer is one scheduled callback. Timers run strictly after the next-tick
// queue drains, preserving the emulated runtime's ordering.
type timer struct {
	id     int64
	due    time.Time
	repeat time.Duration
	fn     goja.Callable
	args   []goja.Value
}

func (t *timer) fire() error {
	_, err := t.fn(goja.Undefined(), t.args...)
	return err
}

type timerQueue struct {
	nextID int64
	items  map[int64]*timer
}

func newTimerQueue() *timerQueue {
	return &timerQueue{items: make(map[int64]*timer)}
}

func (q *timerQueue) schedule(fn goja.Callable, delay time.Duration, repeat time.Duration, args []goja.Value) int64 {
	q.nextID++
	t := &timer{
		id:     q.nextID,
		due:    time.Now().Add(delay),
		repeat: repeat,
		fn:     fn,
		args:   args,
	}
	q.items[t.id] = t
	return t.id
}

// next returns the earliest pending timer without removing it.
func (q *timerQueue) next() (*timer, bool) {
	var earliest *timer
	for _, t := range q.items {
		if earliest == nil || t.due.Before(earliest.due) || (t.due.Equal(earliest.due) && t.id < earliest.id) {
			earliest = t
		}
	}
	return earliest, earliest != nil
}

func (q *timerQueue) pop(id int64) {
	delete(q.items, id)
}

func (q *timerQueue) push(t *timer) {
	q.items[t.id] = t
}

func (q *timerQueue) cancel(id int64) {
	delete(q.items, id)
}

func (r *Runtime) setupTimerGlobals() {
	vm := r.vm

	schedule := func(repeat bool) func(goja.FunctionCall) goja.Value {
		return func(call goja.FunctionCall) goja.Value {
			fn, ok := goja.AssertFunction(call.Argument(0))
			if !ok {
				r.throwError("ERR_INVALID_CALLBACK", "callback must be a function")
			}
			delay := time.Duration(call.Argument(1).ToInteger()) * time.Millisecond
			if delay < 0 {
				delay = 0
			}
			var rest []goja.Value
			if len(call.Arguments) > 2 {
				rest = append(rest, call.Arguments[2:]...)
			}
			interval := time.Duration(0)
			if repeat {
				interval = delay
				if interval <= 0 {
					interval = time.Millisecond
				}
			}
			id := r.timers.schedule(fn, delay, interval, rest)
			return vm.ToValue(id)
		}
	}

	clear := func(call goja.FunctionCall) goja.Value {
		r.timers.cancel(call.Argument(0).ToInteger())
		return goja.Undefined()
	}

	vm.Set("setTimeout", schedule(false))
	vm.Set("setInterval", schedule(true))
	vm.Set("clearTimeout", clear)
	vm.Set("clearInterval", clear)
	vm.Set("setImmediate", func(call goja.FunctionCall) goja.Value {
		fn, ok := goja.AssertFunction(call.Argument(0))
		if !ok {
			r.throwError("ERR_INVALID_CALLBACK", "callback must be a function")
		}
		var rest []goja.Value
		if len(call.Arguments) > 1 {
			rest = append(rest, call.Arguments[1:]...)
		}
		id := r.timers.schedule(fn, 0, 0, rest)
		return vm.ToValue(id)
	})
	vm.Set("clearImmediate", clear)
}
