package sink

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"logpipe/internal/queue"
	"logpipe/internal/schema"
	"logpipe/internal/storage"
)

type recordingAppender struct {
	mu      sync.Mutex
	records []*schema.StoredRecord
	fail    bool
}

func (a *recordingAppender) Append(rec *schema.StoredRecord) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.fail {
		return errors.New("append failed")
	}
	a.records = append(a.records, rec)
	return nil
}

func (a *recordingAppender) raws() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]string, len(a.records))
	for i, r := range a.records {
		out[i] = r.RawMessage
	}
	return out
}

func testRecord(category, raw string) schema.Record {
	return schema.Record{
		EventCategory:   category,
		EventSourceType: schema.SourceLinux,
		Severity:        schema.SeverityInfo,
		RawMessage:      raw,
	}
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	assert.Equal(t, 1000, cfg.Capacity)
	assert.Equal(t, 30*time.Second, cfg.ShutdownWait)
}

func TestSink_IngestStampsRecord(t *testing.T) {
	now := time.Date(2024, 6, 1, 10, 0, 0, 0, time.UTC)
	s := New(&recordingAppender{}, DefaultConfig(), WithClock(func() time.Time { return now }))

	stored, err := s.Ingest(context.Background(), testRecord(schema.CategoryLinuxLogin, "x"))
	require.NoError(t, err)
	assert.Equal(t, "2024-06-01T10:00:00Z", stored.ReceivedAt)
	assert.NotEqual(t, uuid.Nil, stored.ID)
	assert.Equal(t, "x", stored.RawMessage)
}

func TestSink_DrainsInFIFOOrder(t *testing.T) {
	app := &recordingAppender{}
	s := New(app, DefaultConfig())
	s.Start(context.Background())

	var want []string
	for i := 0; i < 200; i++ {
		raw := fmt.Sprintf("line-%03d", i)
		want = append(want, raw)
		_, err := s.Ingest(context.Background(), testRecord(schema.CategoryUnknown, raw))
		require.NoError(t, err)
	}

	s.Stop()
	assert.Equal(t, want, app.raws())

	m := s.Metrics()
	assert.EqualValues(t, 200, m.Admitted)
	assert.EqualValues(t, 200, m.Drained)
	assert.Equal(t, 0, m.Depth)
}

func TestSink_Overflow(t *testing.T) {
	const capacity = 100
	s := New(&recordingAppender{}, Config{Capacity: capacity, ShutdownWait: time.Second})
	// Not started: nothing drains.

	var overflows, accepted atomic.Int64
	var wg sync.WaitGroup
	for i := 0; i < capacity+500; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.Ingest(context.Background(), testRecord(schema.CategoryUnknown, "x"))
			switch {
			case err == nil:
				accepted.Add(1)
			case errors.Is(err, ErrBufferOverflow):
				assert.ErrorIs(t, err, queue.ErrQueueFull)
				overflows.Add(1)
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	assert.GreaterOrEqual(t, overflows.Load(), int64(500))
	assert.LessOrEqual(t, accepted.Load(), int64(capacity))

	m := s.Metrics()
	assert.EqualValues(t, overflows.Load(), m.Overflowed)
	assert.Equal(t, capacity, m.Depth)
}

func TestSink_ConcurrentIngestionCountsEveryRecord(t *testing.T) {
	store := storage.NewMemoryStore(nil)
	s := New(store, Config{Capacity: 10000, ShutdownWait: 5 * time.Second})
	s.Start(context.Background())

	const producers = 8
	const perProducer = 250
	categories := []string{schema.CategoryLinuxLogin, schema.CategoryWindowsLogin, schema.CategoryUnknown}

	var wg sync.WaitGroup
	for p := 0; p < producers; p++ {
		wg.Add(1)
		go func(p int) {
			defer wg.Done()
			for i := 0; i < perProducer; i++ {
				_, err := s.Ingest(context.Background(), testRecord(categories[(p+i)%len(categories)], "x"))
				assert.NoError(t, err)
			}
		}(p)
	}
	wg.Wait()
	s.Stop()

	m := store.Metrics()
	assert.EqualValues(t, producers*perProducer, m.TotalProcessed)
	assert.Equal(t, producers*perProducer, store.Len())

	var sum int64
	for _, v := range m.ByCategory {
		sum += v
	}
	assert.Equal(t, m.TotalProcessed, sum)
}

func TestSink_MetricsScenario(t *testing.T) {
	store := storage.NewMemoryStore(nil)
	s := New(store, DefaultConfig())
	s.Start(context.Background())

	for _, c := range []string{schema.CategoryLinuxLogin, schema.CategoryWindowsLogin, schema.CategoryLinuxLogin} {
		_, err := s.Ingest(context.Background(), testRecord(c, "x"))
		require.NoError(t, err)
	}
	s.Stop()

	m := store.Metrics()
	assert.EqualValues(t, 3, m.TotalProcessed)
	assert.Equal(t, map[string]int64{schema.CategoryLinuxLogin: 2, schema.CategoryWindowsLogin: 1}, m.ByCategory)
}

func TestSink_IngestAfterStop(t *testing.T) {
	s := New(&recordingAppender{}, DefaultConfig())
	s.Start(context.Background())
	s.Stop()
	s.Stop()

	_, err := s.Ingest(context.Background(), testRecord(schema.CategoryUnknown, "x"))
	assert.ErrorIs(t, err, ErrSinkClosed)
	assert.NotErrorIs(t, err, ErrBufferOverflow)
}

func TestSink_StopWithoutStart(t *testing.T) {
	s := New(&recordingAppender{}, DefaultConfig())
	done := make(chan struct{})
	go func() {
		s.Stop()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Stop() without Start() blocked")
	}
}

func TestSink_CancelledContext(t *testing.T) {
	s := New(&recordingAppender{}, DefaultConfig())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := s.Ingest(ctx, testRecord(schema.CategoryUnknown, "x"))
	assert.ErrorIs(t, err, context.Canceled)
	assert.EqualValues(t, 0, s.Metrics().Admitted)
}

func TestSink_AppendErrorsCounted(t *testing.T) {
	app := &recordingAppender{fail: true}
	s := New(app, DefaultConfig())
	s.Start(context.Background())

	_, err := s.Ingest(context.Background(), testRecord(schema.CategoryUnknown, "x"))
	require.NoError(t, err)
	s.Stop()

	m := s.Metrics()
	assert.EqualValues(t, 1, m.Errors)
	assert.EqualValues(t, 0, m.Drained)
}
