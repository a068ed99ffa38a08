package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_RegistersIndependently(t *testing.T) {
	a := New()
	b := New()

	a.LoginDecisions.WithLabelValues("admitted").Inc()
	a.LoginDecisions.WithLabelValues("admitted").Inc()

	assert.Equal(t, 2.0, testutil.ToFloat64(a.LoginDecisions.WithLabelValues("admitted")))
	assert.Equal(t, 0.0, testutil.ToFloat64(b.LoginDecisions.WithLabelValues("admitted")))
}

func TestHandler_Exposition(t *testing.T) {
	m := New()
	m.AdminOps.WithLabelValues("rename", "ok").Inc()

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), `licensekeeper_admin_operations_total{op="rename",result="ok"} 1`)
}
