package registry

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistry_RegisterAndResolve(t *testing.T) {
	reg := New()
	reg.Register("greet", func(ctx context.Context, name string) error { return nil })

	task, ok := reg.Resolve("greet")
	assert.True(t, ok)
	assert.NotNil(t, task)

	_, ok = reg.Resolve("absent")
	assert.False(t, ok)
}

func TestRegistry_Has(t *testing.T) {
	reg := New()
	assert.False(t, reg.Has("greet"))

	reg.Register("greet", func(ctx context.Context) error { return nil })
	assert.True(t, reg.Has("greet"))
}

func TestRegistry_Names(t *testing.T) {
	reg := New()
	reg.Register("a-task", func(ctx context.Context) error { return nil })
	reg.Register("b-task", func(ctx context.Context) error { return nil })

	assert.ElementsMatch(t, []string{"a-task", "b-task"}, reg.Names())
}

func TestRegistry_PanicsOnInvalidName(t *testing.T) {
	reg := New()
	assert.Panics(t, func() {
		reg.Register("", func(ctx context.Context) error { return nil })
	})
	assert.Panics(t, func() {
		reg.Register("1leading-digit", func(ctx context.Context) error { return nil })
	})
}

func TestRegistry_PanicsOnNonFunction(t *testing.T) {
	reg := New()
	assert.Panics(t, func() {
		reg.Register("bad", 42)
	})
	assert.Panics(t, func() {
		reg.Register("bad", nil)
	})
}

func TestNewTask_RejectsBadSignatures(t *testing.T) {
	_, err := NewTask(func() {})
	assert.Error(t, err)

	_, err = NewTask(func(ctx context.Context) (int, int) { return 0, 0 })
	assert.Error(t, err)

	_, err = NewTask(func(a, b, c int) error { return nil })
	assert.Error(t, err)
}

func TestTask_ExecuteWithArgs(t *testing.T) {
	type args struct {
		A int `json:"a"`
		B int `json:"b"`
	}

	task, err := NewTask(func(ctx context.Context, in args) (int, error) {
		return in.A + in.B, nil
	})
	require.NoError(t, err)

	output, err := task.Execute(context.Background(), []byte(`{"a":2,"b":3}`))
	require.NoError(t, err)
	assert.Equal(t, []byte("5"), output)
}

func TestTask_ExecuteErrorOnly(t *testing.T) {
	boom := errors.New("boom")
	task, err := NewTask(func(ctx context.Context) error { return boom })
	require.NoError(t, err)

	output, err := task.Execute(context.Background(), nil)
	assert.ErrorIs(t, err, boom)
	assert.Nil(t, output)
}

func TestTask_ExecuteNoArgsNoContext(t *testing.T) {
	calls := 0
	task, err := NewTask(func() error {
		calls++
		return nil
	})
	require.NoError(t, err)

	_, err = task.Execute(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, 1, calls)
}

func TestTask_ExecuteBadInput(t *testing.T) {
	task, err := NewTask(func(ctx context.Context, n int) error { return nil })
	require.NoError(t, err)

	_, err = task.Execute(context.Background(), []byte(`not json`))
	assert.Error(t, err)
}

func TestTask_ExecuteMarshalsStructOutput(t *testing.T) {
	type result struct {
		Status string `json:"status"`
	}
	task, err := NewTask(func(ctx context.Context) (result, error) {
		return result{Status: "ok"}, nil
	})
	require.NoError(t, err)

	output, err := task.Execute(context.Background(), nil)
	require.NoError(t, err)
	assert.JSONEq(t, `{"status":"ok"}`, string(output))
}
