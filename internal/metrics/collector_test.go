package metrics

import (
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/BaSui01/agentweave/workflow"
)

// =============================================================================
// 🧪 Collector 测试
// =============================================================================

var _ workflow.MetricsRecorder = (*Collector)(nil)

func newTestCollector(t *testing.T) (*Collector, *prometheus.Registry) {
	t.Helper()
	reg := prometheus.NewRegistry()
	return NewCollector("test", reg, zap.NewNop()), reg
}

func TestCollector_RecordHTTPRequest(t *testing.T) {
	c, _ := newTestCollector(t)

	c.RecordHTTPRequest("GET", "/v1/workflows", 200, 100*time.Millisecond, 2048)
	c.RecordHTTPRequest("GET", "/v1/workflows", 204, 50*time.Millisecond, 0)
	c.RecordHTTPRequest("POST", "/v1/workflows", 400, 10*time.Millisecond, 64)

	assert.Equal(t, float64(2), testutil.ToFloat64(c.httpRequestsTotal.WithLabelValues("GET", "/v1/workflows", "2xx")))
	assert.Equal(t, float64(1), testutil.ToFloat64(c.httpRequestsTotal.WithLabelValues("POST", "/v1/workflows", "4xx")))
}

func TestCollector_WorkflowMetrics(t *testing.T) {
	c, reg := newTestCollector(t)

	c.RecordWorkflowRun("success", time.Second)
	c.RecordWorkflowRun("failure", 2*time.Second)
	c.RecordWorkflowRun("success", time.Second)
	c.RecordNodeRun("parallel", "success", 0, 10*time.Millisecond)
	c.RecordNodeRun("sequential", "failure", 3, 10*time.Millisecond)
	c.SetInFlight(4)

	assert.Equal(t, float64(2), testutil.ToFloat64(c.workflowRunsTotal.WithLabelValues("success")))
	assert.Equal(t, float64(1), testutil.ToFloat64(c.workflowRunsTotal.WithLabelValues("failure")))
	assert.Equal(t, float64(3), testutil.ToFloat64(c.nodeRetries.WithLabelValues("sequential")))
	assert.Equal(t, float64(4), testutil.ToFloat64(c.workflowsInFlight))

	expected := `
# HELP test_node_runs_total Total number of node executions by edge type and outcome
# TYPE test_node_runs_total counter
test_node_runs_total{edge_type="parallel",status="success"} 1
test_node_runs_total{edge_type="sequential",status="failure"} 1
`
	require.NoError(t, testutil.GatherAndCompare(reg, strings.NewReader(expected), "test_node_runs_total"))
}

func TestCollector_RunnerAndStore(t *testing.T) {
	c, _ := newTestCollector(t)

	c.RecordRunnerCall("success", 20*time.Millisecond)
	c.RecordStoreOperation("redis", "save", nil, time.Millisecond)
	c.RecordStoreOperation("redis", "save", errors.New("down"), time.Millisecond)

	assert.Equal(t, float64(1), testutil.ToFloat64(c.runnerCallsTotal.WithLabelValues("success")))
	assert.Equal(t, float64(1), testutil.ToFloat64(c.storeOpsTotal.WithLabelValues("redis", "save", "failure")))
	assert.Equal(t, 1, testutil.CollectAndCount(c.storeOpDuration))
}

func TestCollector_RegisterDBStats(t *testing.T) {
	c, reg := newTestCollector(t)

	db, _, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	require.NoError(t, c.RegisterDBStats(db, "workflows"))
	assert.Error(t, c.RegisterDBStats(db, "workflows"), "duplicate registration is rejected")

	families, err := reg.Gather()
	require.NoError(t, err)
	found := false
	for _, mf := range families {
		if mf.GetName() == "go_sql_max_open_connections" {
			found = true
		}
	}
	assert.True(t, found)
}

func TestCollector_ConcurrentRecording(t *testing.T) {
	c, _ := newTestCollector(t)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				c.RecordNodeRun("fan-out", "success", 1, time.Millisecond)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, float64(1000), testutil.ToFloat64(c.nodeRunsTotal.WithLabelValues("fan-out", "success")))
	assert.Equal(t, float64(1000), testutil.ToFloat64(c.nodeRetries.WithLabelValues("fan-out")))
}

func TestStatusCode(t *testing.T) {
	tests := []struct {
		code int
		want string
	}{
		{200, "2xx"}, {301, "3xx"}, {404, "4xx"}, {503, "5xx"}, {101, "101"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, statusCode(tt.code))
	}
}
