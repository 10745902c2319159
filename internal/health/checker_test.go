package health

import (
	"testing"
	"time"

	"github.com/bryanhughes/pgo/internal/pgpool"
	"github.com/bryanhughes/pgo/internal/telemetry"
)

var testHealthCfg = Config{
	Interval:          30 * time.Second,
	FailureThreshold:  3,
	ConnectionTimeout: 5 * time.Second,
}

type fakeRegistry struct {
	pools map[string]*pgpool.Pool
}

func (f *fakeRegistry) Pools() map[string]*pgpool.Pool { return f.pools }

func newTestRegistry() Registry {
	return &fakeRegistry{pools: map[string]*pgpool.Pool{}}
}

func TestCheckerInitialState(t *testing.T) {
	c := NewChecker(newTestRegistry(), nil, testHealthCfg)

	if !c.IsHealthy("unknown") {
		t.Error("unknown pool should be treated as healthy")
	}

	status := c.GetStatus("unknown")
	if status.Status != StatusUnknown {
		t.Errorf("expected StatusUnknown, got %v", status.Status)
	}
}

func TestCheckerUpdateStatus(t *testing.T) {
	c := NewChecker(newTestRegistry(), nil, testHealthCfg)

	c.updateStatus("test", true)
	if !c.IsHealthy("test") {
		t.Error("should be healthy after healthy update")
	}
	status := c.GetStatus("test")
	if status.Status != StatusHealthy {
		t.Errorf("expected StatusHealthy, got %v", status.Status)
	}
}

func TestCheckerFailureThreshold(t *testing.T) {
	c := NewChecker(newTestRegistry(), nil, testHealthCfg)

	c.updateStatus("flaky", false)
	if !c.IsHealthy("flaky") {
		t.Error("should still be treated healthy before threshold is reached")
	}

	c.updateStatus("flaky", false)
	c.updateStatus("flaky", false)
	if c.IsHealthy("flaky") {
		t.Error("should be unhealthy once failures reach the threshold")
	}

	status := c.GetStatus("flaky")
	if status.ConsecutiveFailures != 3 {
		t.Errorf("expected 3 consecutive failures, got %d", status.ConsecutiveFailures)
	}

	c.updateStatus("flaky", true)
	if !c.IsHealthy("flaky") {
		t.Error("a single healthy probe should clear unhealthy status")
	}
	if c.GetStatus("flaky").ConsecutiveFailures != 0 {
		t.Error("consecutive failures should reset on recovery")
	}
}

func TestCheckerOverallHealthy(t *testing.T) {
	c := NewChecker(newTestRegistry(), nil, testHealthCfg)

	c.updateStatus("a", true)
	c.updateStatus("b", true)
	if !c.OverallHealthy() {
		t.Error("expected overall healthy with all pools healthy")
	}

	for i := 0; i < testHealthCfg.FailureThreshold; i++ {
		c.updateStatus("b", false)
	}
	if c.OverallHealthy() {
		t.Error("expected overall unhealthy once one pool crosses the threshold")
	}
}

func TestCheckerRemovePool(t *testing.T) {
	collector := telemetry.New()
	c := NewChecker(newTestRegistry(), collector, testHealthCfg)

	c.updateStatus("gone", true)
	if _, ok := c.GetAllStatuses()["gone"]; !ok {
		t.Fatal("expected pool to be tracked before removal")
	}

	c.RemovePool("gone")
	if _, ok := c.GetAllStatuses()["gone"]; ok {
		t.Error("expected pool state to be removed")
	}
}

func TestCheckerStartStop(t *testing.T) {
	c := NewChecker(newTestRegistry(), nil, Config{
		Interval:          10 * time.Millisecond,
		FailureThreshold:  3,
		ConnectionTimeout: time.Second,
	})
	c.Start()
	time.Sleep(30 * time.Millisecond)
	c.Stop()
}
