package metrics

import (
	"errors"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestObserveCommandCounts(t *testing.T) {
	before := testutil.ToFloat64(Default().Commands.WithLabelValues("ls", "ok"))
	ObserveCommand("ls", "ok", time.Millisecond)
	ObserveCommand("ls", "ok", time.Millisecond)
	after := testutil.ToFloat64(Default().Commands.WithLabelValues("ls", "ok"))
	assert.Equal(t, before+2, after)
}

func TestObserveStoreWriteStatus(t *testing.T) {
	ObserveStoreWrite("set", errors.New("disk full"))
	assert.GreaterOrEqual(t, testutil.ToFloat64(Default().StoreWrites.WithLabelValues("set", "error")), 1.0)
}

func TestHandlerServesRegistry(t *testing.T) {
	m := NewMetrics()
	m.WSConnections.Set(3)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	require.Equal(t, 200, rec.Code)
	body := rec.Body.String()
	assert.True(t, strings.Contains(body, "webterm_ws_connections 3"))
	assert.Contains(t, body, "webterm_uptime_seconds")
}
