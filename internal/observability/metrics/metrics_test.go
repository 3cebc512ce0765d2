package metrics

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func TestMetricsCounters(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg, Config{ServiceName: "creditgate-test", Environment: "test"})

	m.RecordAdmission(OutcomeDeny, "insufficient_credits", CallerAccount)
	m.RecordAdmission(OutcomeDeny, "insufficient_credits", CallerAccount)
	m.RecordAdmission(OutcomePermit, "", CallerAnonymous)
	m.RecordCommit("market-research", 3)
	m.RecordCommit("market-research", 2)
	m.IncInvariantViolation()
	m.RecordFreeTrial(true)
	m.RecordFreeTrial(false)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.admissionDecisions.WithLabelValues(OutcomeDeny, "insufficient_credits", CallerAccount)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.admissionDecisions.WithLabelValues(OutcomePermit, "none", CallerAnonymous)))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.commits.WithLabelValues("market-research")))
	assert.Equal(t, 5.0, testutil.ToFloat64(m.creditsCharged.WithLabelValues("market-research")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.invariantViolations))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.commitFailures.WithLabelValues(CommitFailureInvariant)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.freeTrialConsumed))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.freeTrialExhausted))
}

func TestNilMetricsAreNoop(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.RecordAdmission(OutcomePermit, "", CallerAccount)
		m.RecordCommit("x", 1)
		m.IncCommitFailure(CommitFailureStore)
		m.IncDuplicateTransaction()
		m.RecordOperation("x", "committed")
	})

	var jm *JobMetrics
	assert.NotPanics(t, func() {
		jm.IncRun("renewal")
		jm.IncError("renewal", errors.New("boom"))
	})
}

func TestHTTPMetricsMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)
	reg := prometheus.NewRegistry()
	hm := NewHTTPMetrics(reg, Config{})

	r := gin.New()
	r.Use(hm.GinMiddleware())
	r.GET("/health", func(c *gin.Context) { c.Status(http.StatusOK) })

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))
	require.Equal(t, http.StatusOK, w.Code)

	count, err := testutil.GatherAndCount(reg, "creditgate_http_request_duration_seconds")
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestClassifyJobReason(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want string
	}{
		{"deadline", context.DeadlineExceeded, JobReasonDeadlineExceeded},
		{"lock_timeout", &pgconn.PgError{Code: "55P03"}, JobReasonDBLockTimeout},
		{"serialization", &pgconn.PgError{Code: "40001"}, JobReasonSerializationFailure},
		{"unique", gorm.ErrDuplicatedKey, JobReasonUniqueViolation},
		{"sqlite_busy", errors.New("database is locked"), JobReasonDBLockTimeout},
		{"unknown", errors.New("boom"), JobReasonUnknown},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, ClassifyJobReason(tc.err))
		})
	}
}

func TestJobMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	jm := NewJobMetrics(reg, Config{Environment: "test"})

	jm.IncRun("renewal")
	jm.AddProcessed("renewal", 4)
	jm.AddProcessed("renewal", 0)
	jm.IncSkipped("renewal", JobSkipLockHeld)
	jm.ObserveDuration("renewal", 25*time.Millisecond)

	assert.Equal(t, 1.0, testutil.ToFloat64(jm.runs.WithLabelValues("renewal")))
	assert.Equal(t, 4.0, testutil.ToFloat64(jm.processed.WithLabelValues("renewal")))
	assert.Equal(t, 1.0, testutil.ToFloat64(jm.skipped.WithLabelValues("renewal", JobSkipLockHeld)))
}
