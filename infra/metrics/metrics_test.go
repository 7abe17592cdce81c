package metrics

import (
	"io"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCollectors(t *testing.T) {
	m := New()
	m.Published.Add(3)
	m.Delivered.WithLabelValues("kafka").Inc()
	m.Subscribers.Set(2)
	m.WatchRetained(func() float64 { return 7 })

	assert.InDelta(t, 3, testutil.ToFloat64(m.Published), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(m.Delivered.WithLabelValues("kafka")), 0)
	assert.InDelta(t, 2, testutil.ToFloat64(m.Subscribers), 0)

	n, err := testutil.GatherAndCount(m.Registry(), "conduit_retained_nodes")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestHandler(t *testing.T) {
	m := New()
	m.Published.Inc()

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	assert.True(t, strings.Contains(string(body), "conduit_published_total 1"))
}

func TestWatchRetainedReplacesSource(t *testing.T) {
	m := New()

	n, err := testutil.GatherAndCount(m.Registry(), "conduit_retained_nodes")
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	m.WatchRetained(func() float64 { return 4 })
	assert.NotPanics(t, func() { m.WatchRetained(func() float64 { return 9 }) })

	expected := `
# HELP conduit_retained_nodes Queue nodes still referenced by the tail or a subscriber cursor.
# TYPE conduit_retained_nodes gauge
conduit_retained_nodes 9
`
	require.NoError(t, testutil.GatherAndCompare(m.Registry(), strings.NewReader(expected), "conduit_retained_nodes"))
}
