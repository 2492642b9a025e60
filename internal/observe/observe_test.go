package observe

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/unalkalkan/pronounce/internal/jobstore"
)

func TestMetricsHandlerServesPlainText(t *testing.T) {
	m := NewMetrics()
	m.JobsAdmitted.Inc()
	m.RecordSegmentOutcome("ready")

	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/v1/metrics", nil)
	m.Handler().ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	body := rr.Body.String()
	if !contains(body, "px_jobs_admitted_total") {
		t.Errorf("expected metrics body to contain px_jobs_admitted_total, got: %s", body)
	}
}

func TestStatusHandlerReportsSnapshot(t *testing.T) {
	store := jobstore.NewMemoryStore(jobstore.MemoryConfig{
		MaxActiveJobs:        5,
		SegmentMaxRetries:    2,
		SegmentStaleSeconds:  30,
		JobsTTLSeconds:       3600,
		MergeLockWaitSeconds: 5,
	})

	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/v1/admin/status", nil).WithContext(context.Background())
	StatusHandler(store, 3)(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}

	var resp StatusResponse
	if err := json.NewDecoder(rr.Body).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.WorkersOnline != 3 {
		t.Errorf("expected workers_online 3, got %d", resp.WorkersOnline)
	}
}

func contains(s, substr string) bool {
	for i := 0; i+len(substr) <= len(s); i++ {
		if s[i:i+len(substr)] == substr {
			return true
		}
	}
	return false
}
