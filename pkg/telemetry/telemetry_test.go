package telemetry

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/mocdown/mocdown/pkg/engine"
)

func newTestTelemetry(t *testing.T) *Telemetry {
	t.Helper()
	cfg := DefaultConfig()
	cfg.Logging.Output = "stderr"
	cfg.Logging.Level = "error"
	tel, err := NewTelemetry(cfg)
	if err != nil {
		t.Fatalf("NewTelemetry() error = %v", err)
	}
	t.Cleanup(func() { _ = tel.Shutdown(context.Background()) })
	return tel
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"default", func(*Config) {}, false},
		{"bad level", func(c *Config) { c.Logging.Level = "loud" }, true},
		{"bad format", func(c *Config) { c.Logging.Format = "xml" }, true},
		{"otlp without endpoint", func(c *Config) {
			c.Tracing.Enabled = true
			c.Tracing.Exporter = "otlp"
		}, true},
		{"sampling out of range", func(c *Config) { c.Tracing.SamplingRate = 2 }, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			if err := cfg.Validate(); (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestRecordSolverOperation(t *testing.T) {
	tel := newTestTelemetry(t)
	ctx := tel.WithContext(context.Background())

	if err := RecordSolverOperation(ctx, "transport", "/tmp", func(context.Context) error { return nil }); err != nil {
		t.Fatalf("RecordSolverOperation() error = %v", err)
	}
	failure := errors.New("exit status 1")
	if err := RecordSolverOperation(ctx, "transport", "/tmp", func(context.Context) error { return failure }); !errors.Is(err, failure) {
		t.Fatalf("RecordSolverOperation() error = %v, want %v", err, failure)
	}

	if got := testutil.ToFloat64(tel.Metrics.solverCalls.WithLabelValues("transport")); got != 2 {
		t.Errorf("solver calls = %v, want 2", got)
	}
	if got := testutil.ToFloat64(tel.Metrics.solverErrors.WithLabelValues("transport")); got != 1 {
		t.Errorf("solver errors = %v, want 1", got)
	}
}

func TestInstrumentedContextCountsEngineErrors(t *testing.T) {
	tel := newTestTelemetry(t)
	ctx := tel.WithContext(context.Background())

	op := StartOperation(ctx, "depletion.step")
	op.End(engine.NewPermanentError("feedback did not settle", nil).WithCode(engine.ErrCodeNotConverged))

	if got := testutil.ToFloat64(tel.Metrics.errorsByCode.WithLabelValues(engine.ErrCodeNotConverged)); got != 1 {
		t.Errorf("errors by code = %v, want 1", got)
	}
	if got := testutil.ToFloat64(tel.Metrics.errorsByClass.WithLabelValues(string(engine.ErrorClassPermanent))); got != 1 {
		t.Errorf("errors by class = %v, want 1", got)
	}
}

func TestDisabledMetricsAcceptCalls(t *testing.T) {
	m, err := NewMetrics(MetricsConfig{})
	if err != nil {
		t.Fatalf("NewMetrics() error = %v", err)
	}
	m.RecordRunStarted("deplete")
	m.RecordRunCompleted("deplete", "ok", time.Second)
	m.RecordStep("computed", 2)
	m.RecordSolverCall("transmute", time.Second, nil)
	m.SetEigenvalue(1, 1e17)
	m.TransmutationStarted()
	m.TransmutationDone()
	if m.Registry() != nil {
		t.Error("disabled metrics should have no registry")
	}
}

func TestEventPublisher(t *testing.T) {
	ep := NewEventPublisher(EventsConfig{Enabled: true})
	var steps, all []Event
	ep.Subscribe(func(e Event) { steps = append(steps, e) }, FilterByType(EventTypeStepCompleted))
	ep.Subscribe(func(e Event) { all = append(all, e) }, nil)

	ep.PublishStep("run-1", 3, 30, 1.01)
	ep.PublishRunCompleted("run-1", time.Minute, errors.New("boom"))

	if len(steps) != 1 || steps[0].Data["step"] != 3 {
		t.Fatalf("step subscriber got %+v", steps)
	}
	if len(all) != 2 {
		t.Fatalf("catch-all subscriber got %d events, want 2", len(all))
	}
	if all[1].Type != EventTypeRunFailed || all[1].Level != EventLevelError {
		t.Errorf("failed run event = %+v", all[1])
	}
	if all[0].ID == "" || all[0].Timestamp.IsZero() {
		t.Error("Publish() did not stamp the event")
	}

	NewEventPublisher(EventsConfig{}).PublishStep("run-2", 0, 0, 0)
}

func TestNewLoggerWritesRunFields(t *testing.T) {
	path := filepath.Join(t.TempDir(), "mocdown.log")
	logger, err := NewLogger(LoggingConfig{Level: "info", Format: "json", Output: path})
	if err != nil {
		t.Fatalf("NewLogger() error = %v", err)
	}

	step := logger.NewComponentLogger("depletion").WithRunID("run-1").WithCycle(2).WithStep(3).WithCell(40)
	step.Debug("hidden below info")
	step.WithError(errors.New("late")).Warnf("step %d restarted", 3)

	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile() error = %v", err)
	}
	lines := strings.Split(strings.TrimSpace(string(raw)), "\n")
	if len(lines) != 1 {
		t.Fatalf("got %d log lines, want 1:\n%s", len(lines), raw)
	}
	var entry map[string]interface{}
	if err := json.Unmarshal([]byte(lines[0]), &entry); err != nil {
		t.Fatalf("log line is not JSON: %v", err)
	}
	want := map[string]interface{}{
		"level":     "warn",
		"component": "depletion",
		"run_id":    "run-1",
		"cycle":     float64(2),
		"step":      float64(3),
		"cell":      float64(40),
		"error":     "late",
		"message":   "step 3 restarted",
	}
	for k, v := range want {
		if entry[k] != v {
			t.Errorf("entry[%q] = %v, want %v", k, entry[k], v)
		}
	}
}

func TestFromContextDefaultsToNop(t *testing.T) {
	if FromContext(context.Background()) == nil {
		t.Fatal("FromContext() = nil")
	}
	logger := Nop().WithField("k", "v")
	if got := FromContext(logger.WithContext(context.Background())); got != logger {
		t.Error("FromContext() did not return the stored logger")
	}
}
