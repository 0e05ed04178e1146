package processor

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestNewConfig_Defaults(t *testing.T) {
	config := newConfig(nil)

	assert.Equal(t, DefaultWaitTime, config.WaitTime)
	assert.Equal(t, DefaultMaxThreads, config.MaxThreads)
	assert.Equal(t, DefaultThreadStartupWait, config.ThreadStartupWait)
	assert.Equal(t, DefaultConflictRetries, config.ConflictRetryLimit)
	assert.NotEmpty(t, config.Owner)
	assert.NotNil(t, config.Logger)
}

func TestNewConfig_UniqueOwners(t *testing.T) {
	a := newConfig(nil)
	b := newConfig(nil)
	assert.NotEqual(t, a.Owner, b.Owner)
}

func TestWaitTime_AppliesCorrectly(t *testing.T) {
	config := newConfig([]Option{WaitTime(250 * time.Millisecond)})
	assert.Equal(t, 250*time.Millisecond, config.WaitTime)
}

func TestWaitTime_NegativeIgnored(t *testing.T) {
	config := newConfig([]Option{WaitTime(-time.Second)})
	assert.Equal(t, DefaultWaitTime, config.WaitTime)
}

func TestMaxThreads_ClampedToMin(t *testing.T) {
	config := newConfig([]Option{MaxThreads(0)})
	assert.Equal(t, 1, config.MaxThreads)
}

func TestMaxThreads_ClampedToMax(t *testing.T) {
	config := newConfig([]Option{MaxThreads(5000)})
	assert.Equal(t, 1000, config.MaxThreads)
}

func TestThreadStartupWait_AppliesCorrectly(t *testing.T) {
	config := newConfig([]Option{ThreadStartupWait(5 * time.Millisecond)})
	assert.Equal(t, 5*time.Millisecond, config.ThreadStartupWait)
}

func TestConflictRetryLimit_ZeroMeansNoRetry(t *testing.T) {
	config := newConfig([]Option{ConflictRetryLimit(0)})
	assert.Equal(t, 0, config.ConflictRetryLimit)
	assert.Equal(t, 1, config.retryConfig().MaxAttempts)
}

func TestWithOwner_Overrides(t *testing.T) {
	config := newConfig([]Option{WithOwner("processor-7")})
	assert.Equal(t, "processor-7", config.Owner)
}
