package registry

import (
	"context"
	"encoding/json"
	"fmt"
	"reflect"
)

// Task holds a registered executable unit. Input and output cross the
// boundary as opaque JSON blobs; the reflection layer maps them onto the
// registered function's signature.
type Task struct {
	fn           reflect.Value
	argsType     reflect.Type
	hasContext   bool
	returnsValue bool
}

var (
	ctxType = reflect.TypeOf((*context.Context)(nil)).Elem()
	errType = reflect.TypeOf((*error)(nil)).Elem()
)

// NewTask creates a Task from a function.
// The function must have one of the signatures:
//
//	func(ctx context.Context, args T) error
//	func(ctx context.Context, args T) (R, error)
//
// The context and args parameters are each optional.
func NewTask(fn any) (*Task, error) {
	if fn == nil {
		return nil, fmt.Errorf("task cannot be nil")
	}

	fnVal := reflect.ValueOf(fn)
	if !fnVal.IsValid() || (fnVal.Kind() == reflect.Func && fnVal.IsNil()) {
		return nil, fmt.Errorf("task function cannot be nil")
	}

	fnType := fnVal.Type()
	if fnType.Kind() != reflect.Func {
		return nil, fmt.Errorf("task must be a function")
	}

	task := &Task{fn: fnVal}

	numIn := fnType.NumIn()
	if numIn > 2 {
		return nil, fmt.Errorf("task must have at most 2 arguments")
	}

	argIdx := 0
	if numIn > 0 && fnType.In(0).Implements(ctxType) {
		task.hasContext = true
		argIdx = 1
	}
	if argIdx < numIn {
		task.argsType = fnType.In(argIdx)
	}

	switch fnType.NumOut() {
	case 1:
		if !fnType.Out(0).Implements(errType) {
			return nil, fmt.Errorf("task must return error")
		}
	case 2:
		if !fnType.Out(1).Implements(errType) {
			return nil, fmt.Errorf("task must return (T, error)")
		}
		task.returnsValue = true
	default:
		return nil, fmt.Errorf("task must return error or (T, error)")
	}

	return task, nil
}

// Execute runs the task against the given input blob. The returned blob is
// the JSON encoding of the task's result value, or nil for error-only
// signatures.
func (t *Task) Execute(ctx context.Context, input []byte) ([]byte, error) {
	if !t.fn.IsValid() || t.fn.IsNil() {
		return nil, fmt.Errorf("task function is nil or invalid")
	}

	var args []reflect.Value

	if t.hasContext {
		args = append(args, reflect.ValueOf(ctx))
	}

	if t.argsType != nil {
		argVal := reflect.New(t.argsType)
		if len(input) > 0 {
			if err := json.Unmarshal(input, argVal.Interface()); err != nil {
				return nil, fmt.Errorf("failed to unmarshal input: %w", err)
			}
		}
		args = append(args, argVal.Elem())
	}

	results := t.fn.Call(args)

	if t.returnsValue {
		if !results[1].IsNil() {
			return nil, results[1].Interface().(error)
		}
		output, err := json.Marshal(results[0].Interface())
		if err != nil {
			return nil, fmt.Errorf("failed to marshal output: %w", err)
		}
		return output, nil
	}

	if !results[0].IsNil() {
		return nil, results[0].Interface().(error)
	}
	return nil, nil
}
