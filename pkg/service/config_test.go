package service

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseConfig_Full(t *testing.T) {
	kind, args, err := ParseConfig([]byte(`
processor: multi
wait_time: 250ms
max_threads: 8
thread_startup_wait: 20ms
conflict_retry_limit: 5
`))
	require.NoError(t, err)
	assert.Equal(t, KindMulti, kind)
	assert.Equal(t, 250*time.Millisecond, args.WaitTime)
	assert.Equal(t, 8, args.MaxThreads)
	assert.Equal(t, 20*time.Millisecond, args.ThreadStartupWait)
	assert.Equal(t, 5, args.ConflictRetryLimit)
}

func TestParseConfig_DefaultsToMulti(t *testing.T) {
	kind, args, err := ParseConfig([]byte(`max_threads: 2`))
	require.NoError(t, err)
	assert.Equal(t, KindMulti, kind)
	assert.Equal(t, 2, args.MaxThreads)
	assert.Zero(t, args.WaitTime)
}

func TestParseConfig_Simple(t *testing.T) {
	kind, _, err := ParseConfig([]byte(`processor: simple`))
	require.NoError(t, err)
	assert.Equal(t, KindSimple, kind)
}

func TestParseConfig_UnknownProcessor(t *testing.T) {
	_, _, err := ParseConfig([]byte(`processor: quantum`))
	assert.ErrorIs(t, err, ErrUnknownProcessor)
}

func TestParseConfig_BadDuration(t *testing.T) {
	_, _, err := ParseConfig([]byte(`wait_time: soon`))
	assert.Error(t, err)
}

func TestLoadConfig_FromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "taskqueue.yaml")
	require.NoError(t, os.WriteFile(path, []byte("processor: simple\nwait_time: 1s\n"), 0o644))

	kind, args, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, KindSimple, kind)
	assert.Equal(t, time.Second, args.WaitTime)
}

func TestLoadConfig_MissingFile(t *testing.T) {
	_, _, err := LoadConfig(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.Error(t, err)
}

func TestArguments_OptionsSkipUnset(t *testing.T) {
	assert.Empty(t, Arguments{}.Options())
	assert.Len(t, Arguments{WaitTime: time.Second, MaxThreads: 2}.Options(), 2)
}
