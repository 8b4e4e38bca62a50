package audit

import (
	"bytes"
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/clinicauth/pkg/contextkeys"
	"github.com/platinummonkey/clinicauth/pkg/observability"
)

type memWriter struct {
	mu      sync.Mutex
	entries []Entry
	err     error
}

func (m *memWriter) Append(_ context.Context, e *Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.entries = append(m.entries, *e)
	return nil
}

func (m *memWriter) Search(_ context.Context, f Filter) ([]Entry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Entry
	for _, e := range m.entries {
		if f.ResourceID != "" && derefString(e.ResourceID) != f.ResourceID {
			continue
		}
		out = append(out, e)
	}
	return out, nil
}

func TestLogActivity_AppendsEntry(t *testing.T) {
	w := &memWriter{}
	logger := NewActivityLogger(w)

	res := logger.LogActivity(context.Background(), "actor-1", ActionUpdate, "patient", "p123",
		map[string]interface{}{"fields": []string{"name"}})

	require.True(t, res.OK())
	require.Len(t, w.entries, 1)

	entry := w.entries[0]
	assert.NotEmpty(t, entry.ID)
	assert.Equal(t, "actor-1", derefString(entry.UserID))
	assert.Equal(t, ActionUpdate, entry.Action)
	assert.Equal(t, "patient", entry.ResourceType)
	assert.Equal(t, "p123", derefString(entry.ResourceID))
	assert.Equal(t, []string{"name"}, entry.Details["fields"])
	assert.False(t, entry.CreatedAt.IsZero())
	assert.Equal(t, res.Entry.ID, entry.ID)
}

func TestLogActivity_ActorFromContext(t *testing.T) {
	w := &memWriter{}
	logger := NewActivityLogger(w)

	ctx := contextkeys.WithPrincipalID(context.Background(), "ctx-actor")
	ctx = contextkeys.WithRequestID(ctx, "req-9")

	res := logger.LogActivity(ctx, "", ActionDelete, ResourceRole, "", nil)
	require.True(t, res.OK())

	entry := w.entries[0]
	assert.Equal(t, "ctx-actor", derefString(entry.UserID))
	assert.Nil(t, entry.ResourceID)
	assert.Equal(t, "req-9", entry.Details["request_id"])
}

func TestLogActivity_NoActor(t *testing.T) {
	w := &memWriter{}
	res := NewActivityLogger(w).LogActivity(context.Background(), "", ActionCreate, ResourceRole, "r1", nil)
	require.True(t, res.OK())
	assert.Nil(t, w.entries[0].UserID)
}

func TestLogActivity_FailureIsSwallowed(t *testing.T) {
	var buf bytes.Buffer
	metrics := observability.NewMetrics(prometheus.NewRegistry())
	w := &memWriter{err: errors.New("connection refused")}

	logger := NewActivityLogger(w,
		WithMetrics(metrics),
		WithLogger(observability.NewLogger(observability.InfoLevel, &buf)),
	)

	var res Result
	assert.NotPanics(t, func() {
		res = logger.LogActivity(context.Background(), "actor-1", ActionUpdate, ResourceUser, "u1", nil)
	})

	assert.False(t, res.OK())
	assert.ErrorContains(t, res.Err, "connection refused")
	require.NotNil(t, res.Entry)
	assert.Equal(t, float64(1), testutil.ToFloat64(metrics.ActivityWritesTotal.WithLabelValues("failure")))
	assert.Contains(t, buf.String(), "failed to write activity log entry")
	assert.Contains(t, buf.String(), "u1")
}

func TestLogActivity_InvalidEntry(t *testing.T) {
	w := &memWriter{}
	res := NewActivityLogger(w).LogActivity(context.Background(), "a", "", ResourceUser, "u1", nil)
	assert.ErrorIs(t, res.Err, ErrInvalidEntry)
	assert.Empty(t, w.entries)
}

func TestLogActivity_CountsSuccess(t *testing.T) {
	metrics := observability.NewMetrics(prometheus.NewRegistry())
	logger := NewActivityLogger(&memWriter{}, WithMetrics(metrics))

	logger.LogActivity(context.Background(), "a", ActionCreate, ResourceRole, "r1", nil)
	logger.LogActivity(context.Background(), "a", ActionCreate, ResourceRole, "r2", nil)

	assert.Equal(t, float64(2), testutil.ToFloat64(metrics.ActivityWritesTotal.WithLabelValues("success")))
}

func TestLogActivityAsync_SurvivesCancel(t *testing.T) {
	w := &memWriter{}
	logger := NewActivityLogger(w)

	ctx, cancel := context.WithCancel(context.Background())
	ch := logger.LogActivityAsync(ctx, "a", ActionUpdate, ResourceUser, "u1", nil)
	cancel()

	select {
	case res := <-ch:
		require.True(t, res.OK())
	case <-time.After(2 * time.Second):
		t.Fatal("async write did not finish")
	}
	assert.Len(t, w.entries, 1)
}

func TestLogActivity_Concurrent(t *testing.T) {
	w := &memWriter{}
	logger := NewActivityLogger(w)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			logger.LogActivity(context.Background(), "a", ActionUpdate, ResourceUser, "u1", nil)
		}()
	}
	wg.Wait()

	assert.Len(t, w.entries, 20)
	ids := map[string]bool{}
	for _, e := range w.entries {
		ids[e.ID] = true
	}
	assert.Len(t, ids, 20)
}

func TestParseExportFormat(t *testing.T) {
	f, err := ParseExportFormat(" NDJSON ")
	require.NoError(t, err)
	assert.Equal(t, ExportFormatNDJSON, f)

	_, err = ParseExportFormat("xml")
	assert.Error(t, err)
}
