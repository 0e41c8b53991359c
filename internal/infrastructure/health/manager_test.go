package health

import (
	"fmt"
	"testing"
)

func TestHealthManager_Aggregation(t *testing.T) {
	hm := NewHealthManager(nil)

	// Initial state: Healthy (no checks)
	if !hm.IsHealthy() {
		t.Error("Empty health manager should be healthy")
	}

	hm.Register("stream", func() error { return nil })
	if !hm.IsHealthy() {
		t.Error("Healthy component should not fail manager")
	}

	hm.Register("telegram", func() error { return fmt.Errorf("failed") })
	if hm.IsHealthy() {
		t.Error("Unhealthy component should fail manager")
	}

	status := hm.GetStatus()
	if status["stream"] != "Healthy" {
		t.Errorf("Expected Healthy, got %s", status["stream"])
	}
	if status["telegram"] != "Unhealthy: failed" {
		t.Errorf("Expected Unhealthy, got %s", status["telegram"])
	}
}
