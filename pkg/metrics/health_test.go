package metrics

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

// TestRegisterComponent tests component registration and overall status
func TestRegisterComponent(t *testing.T) {
	RegisterComponent("store", true, "")
	RegisterComponent("scheduler", true, "")
	RegisterComponent("healer", true, "")

	health := GetHealth()
	if health.Status != "healthy" {
		t.Errorf("GetHealth().Status = %q, want healthy", health.Status)
	}

	UpdateComponent("scheduler", false, "poll loop stalled")
	health = GetHealth()
	if health.Status != "unhealthy" {
		t.Errorf("GetHealth().Status = %q, want unhealthy", health.Status)
	}

	// Restore for other tests
	UpdateComponent("scheduler", true, "")
}

// TestGetReadiness tests that readiness requires the critical components
func TestGetReadiness(t *testing.T) {
	RegisterComponent("store", true, "")
	RegisterComponent("scheduler", true, "")
	RegisterComponent("healer", true, "")

	readiness := GetReadiness()
	if readiness.Status != "ready" {
		t.Errorf("GetReadiness().Status = %q, want ready", readiness.Status)
	}

	UpdateComponent("healer", false, "starting")
	readiness = GetReadiness()
	if readiness.Status != "not_ready" {
		t.Errorf("GetReadiness().Status = %q, want not_ready", readiness.Status)
	}

	UpdateComponent("healer", true, "")
}

// TestHealthHandler tests the /health endpoint
func TestHealthHandler(t *testing.T) {
	RegisterComponent("store", true, "")
	RegisterComponent("scheduler", true, "")
	RegisterComponent("healer", true, "")

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()

	HealthHandler()(rec, req)

	if rec.Code != http.StatusOK {
		t.Errorf("health handler status = %d, want %d", rec.Code, http.StatusOK)
	}

	var body HealthStatus
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("health response is not valid JSON: %v", err)
	}
	if body.Status != "healthy" {
		t.Errorf("health response status = %q, want healthy", body.Status)
	}
}

// TestReadyHandlerNotReady tests /ready with an unhealthy critical component
func TestReadyHandlerNotReady(t *testing.T) {
	RegisterComponent("store", false, "opening database")

	req := httptest.NewRequest(http.MethodGet, "/ready", nil)
	rec := httptest.NewRecorder()

	ReadyHandler()(rec, req)

	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("ready handler status = %d, want %d", rec.Code, http.StatusServiceUnavailable)
	}

	UpdateComponent("store", true, "")
}
