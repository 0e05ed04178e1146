package processor

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/jakke/taskqueue/pkg/core"
	"github.com/jakke/taskqueue/pkg/registry"
	"github.com/jakke/taskqueue/pkg/storage"
	"github.com/jakke/taskqueue/pkg/txctx"
)

func openTestStore(t *testing.T) *storage.GormStore {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "taskqueue_test.db")
	db, err := gorm.Open(sqlite.Open(fmt.Sprintf("file:%s?_busy_timeout=5000", dbPath)), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)

	store := storage.NewGormStore(db)
	require.NoError(t, store.Migrate(context.Background()))
	return store
}

// waitUntil polls cond until it holds or the deadline passes.
func waitUntil(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("condition not met within timeout")
}

type sleepArgs struct {
	Millis int `json:"millis"`
	N      int `json:"n"`
}

// completionLog records job completion order from task bodies.
type completionLog struct {
	mu sync.Mutex
	ns []int
}

func (l *completionLog) add(n int) {
	l.mu.Lock()
	l.ns = append(l.ns, n)
	l.mu.Unlock()
}

func (l *completionLog) snapshot() []int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]int(nil), l.ns...)
}

func enqueueSleeps(t *testing.T, store core.Store, durations []sleepArgs) {
	t.Helper()
	ctx := context.Background()
	for _, d := range durations {
		_, err := store.Add(ctx, "sleep", []byte(fmt.Sprintf(`{"millis":%d,"n":%d}`, d.Millis, d.N)))
		require.NoError(t, err)
	}
}

func registerSleep(reg *registry.Registry, log *completionLog) {
	reg.Register("sleep", func(ctx context.Context, args sleepArgs) error {
		time.Sleep(time.Duration(args.Millis) * time.Millisecond)
		log.add(args.N)
		return nil
	})
}

func TestSimpleProcessor_ProcessNext_EmptyQueue(t *testing.T) {
	store := openTestStore(t)
	reg := registry.New()

	p := NewSimple(store, reg)
	ran, err := p.ProcessNext(context.Background())
	require.NoError(t, err)
	assert.False(t, ran)
}

func TestSimpleProcessor_CompletionOrderMatchesInsertion(t *testing.T) {
	store := openTestStore(t)
	reg := registry.New()
	log := &completionLog{}
	registerSleep(reg, log)

	enqueueSleeps(t, store, []sleepArgs{
		{Millis: 40, N: 1},
		{Millis: 100, N: 2},
		{Millis: 0, N: 3},
		{Millis: 80, N: 4},
	})

	p := NewSimple(store, reg, WaitTime(10*time.Millisecond))
	go func() { _ = p.Run(context.Background()) }()

	waitUntil(t, 5*time.Second, func() bool { return len(log.snapshot()) == 4 })
	p.Stop()
	require.NoError(t, p.Drain(time.Second))

	assert.Equal(t, []int{1, 2, 3, 4}, log.snapshot())
}

func TestSimpleProcessor_CompletesJobWithOutput(t *testing.T) {
	store := openTestStore(t)
	reg := registry.New()
	reg.Register("double", func(ctx context.Context, n int) (int, error) {
		return n * 2, nil
	})

	ctx := context.Background()
	id, err := store.Add(ctx, "double", []byte("21"))
	require.NoError(t, err)

	p := NewSimple(store, reg)
	ran, err := p.ProcessNext(ctx)
	require.NoError(t, err)
	assert.True(t, ran)

	job, err := store.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, core.StatusCompleted, job.Status)
	assert.Equal(t, []byte("42"), job.Output)
	require.NotNil(t, job.CompletedAt)
}

func TestSimpleProcessor_TaskErrorIsTerminal(t *testing.T) {
	store := openTestStore(t)
	reg := registry.New()
	reg.Register("explode", func(ctx context.Context) error {
		return errors.New("kaput")
	})

	ctx := context.Background()
	id, err := store.Add(ctx, "explode", nil)
	require.NoError(t, err)

	p := NewSimple(store, reg)
	ran, err := p.ProcessNext(ctx)
	require.NoError(t, err)
	assert.True(t, ran)

	job, err := store.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, core.StatusError, job.Status)
	assert.Contains(t, string(job.Output), "kaput")
}

func TestSimpleProcessor_PanicIsTerminal(t *testing.T) {
	store := openTestStore(t)
	reg := registry.New()
	reg.Register("panic", func(ctx context.Context) error {
		panic("boom")
	})

	ctx := context.Background()
	id, err := store.Add(ctx, "panic", nil)
	require.NoError(t, err)

	p := NewSimple(store, reg)
	ran, err := p.ProcessNext(ctx)
	require.NoError(t, err)
	assert.True(t, ran)

	job, err := store.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, core.StatusError, job.Status)
	assert.Contains(t, string(job.Output), "panic")
}

func TestSimpleProcessor_MissingTaskContinuesDraining(t *testing.T) {
	store := openTestStore(t)
	reg := registry.New()
	log := &completionLog{}
	registerSleep(reg, log)

	ctx := context.Background()
	unknown, err := store.Add(ctx, "unknown", nil)
	require.NoError(t, err)
	enqueueSleeps(t, store, []sleepArgs{{Millis: 0, N: 1}})

	p := NewSimple(store, reg, WaitTime(10*time.Millisecond))
	go func() { _ = p.Run(ctx) }()

	waitUntil(t, 5*time.Second, func() bool { return len(log.snapshot()) == 1 })
	p.Stop()
	require.NoError(t, p.Drain(time.Second))

	job, err := store.Get(ctx, unknown)
	require.NoError(t, err)
	assert.Equal(t, core.StatusError, job.Status)
	assert.Contains(t, string(job.Output), "task not registered")
}

func TestSimpleProcessor_AbortRunsExactlyOnce(t *testing.T) {
	store := openTestStore(t)
	reg := registry.New()

	var counter atomic.Int32
	reg.Register("count", func(ctx context.Context) error {
		counter.Add(1)
		txctx.Abort(ctx)
		return nil
	})

	ctx := context.Background()
	id, err := store.Add(ctx, "count", nil)
	require.NoError(t, err)

	p := NewSimple(store, reg, WaitTime(5*time.Millisecond))
	go func() { _ = p.Run(ctx) }()

	// Give the loop room to re-claim if poisoning were broken.
	time.Sleep(300 * time.Millisecond)
	p.Stop()
	require.NoError(t, p.Drain(time.Second))

	assert.Equal(t, int32(1), counter.Load())
	assert.True(t, p.poison.contains(id))

	// The rollback undid the claim: the job is QUEUED again for other owners.
	job, err := store.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, core.StatusQueued, job.Status)
}

func TestSimpleProcessor_AbortCountsAsProgress(t *testing.T) {
	store := openTestStore(t)
	reg := registry.New()
	reg.Register("abort", func(ctx context.Context) error {
		txctx.Abort(ctx)
		return nil
	})

	ctx := context.Background()
	_, err := store.Add(ctx, "abort", nil)
	require.NoError(t, err)

	p := NewSimple(store, reg)
	ran, err := p.ProcessNext(ctx)
	require.NoError(t, err)
	assert.True(t, ran)

	// The poisoned id is excluded from the next claim.
	ran, err = p.ProcessNext(ctx)
	require.NoError(t, err)
	assert.False(t, ran)
}

func TestProcessors_ClaimUniquenessUnderContention(t *testing.T) {
	store := openTestStore(t)
	reg := registry.New()

	var mu sync.Mutex
	executions := make(map[int]int)
	reg.Register("tick", func(ctx context.Context, n int) error {
		mu.Lock()
		executions[n]++
		mu.Unlock()
		return nil
	})

	ctx := context.Background()
	const jobs = 100
	for i := 0; i < jobs; i++ {
		_, err := store.Add(ctx, "tick", []byte(fmt.Sprintf("%d", i)))
		require.NoError(t, err)
	}

	a := NewSimple(store, reg, WaitTime(5*time.Millisecond), ConflictRetryLimit(10))
	b := NewSimple(store, reg, WaitTime(5*time.Millisecond), ConflictRetryLimit(10))
	go func() { _ = a.Run(ctx) }()
	go func() { _ = b.Run(ctx) }()

	waitUntil(t, 30*time.Second, func() bool {
		counts, err := store.CountByStatus(ctx)
		return err == nil && counts[core.StatusCompleted] == jobs
	})
	a.Stop()
	b.Stop()
	require.NoError(t, a.Drain(2*time.Second))
	require.NoError(t, b.Drain(2*time.Second))

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, executions, jobs)
	for n, count := range executions {
		assert.Equal(t, 1, count, "job %d executed %d times", n, count)
	}
}
