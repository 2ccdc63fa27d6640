package observability

import (
	"bytes"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestLoggerRedactsSecrets(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(LogConfig{Level: "info", Format: "json", Output: &buf})

	logger.Info("peer configured", "header", "Bearer abcdefghijklmnopqrstuvwxyz012345")

	out := buf.String()
	if strings.Contains(out, "abcdefghijklmnopqrstuvwxyz012345") {
		t.Errorf("expected token redacted, got %s", out)
	}
	if !strings.Contains(out, "[REDACTED]") {
		t.Errorf("expected redaction marker, got %s", out)
	}
}

func TestLoggerLevelFilter(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(LogConfig{Level: "warn", Format: "text", Output: &buf})

	logger.Info("hidden")
	logger.Warn("visible")

	out := buf.String()
	if strings.Contains(out, "hidden") {
		t.Error("info record should be filtered at warn level")
	}
	if !strings.Contains(out, "visible") {
		t.Error("warn record should pass")
	}
}

func TestMetricsRegistration(t *testing.T) {
	m, registry := NewMetrics()

	m.RPCRequestCounter.WithLabelValues("tools/call", "ok").Inc()
	m.AuthzDecisionCounter.WithLabelValues("execute", "deny").Inc()
	m.ActiveSessions.WithLabelValues("stdio").Set(2)

	if got := testutil.ToFloat64(m.RPCRequestCounter.WithLabelValues("tools/call", "ok")); got != 1 {
		t.Errorf("expected 1 rpc request, got %v", got)
	}
	if got := testutil.ToFloat64(m.ActiveSessions.WithLabelValues("stdio")); got != 2 {
		t.Errorf("expected 2 active sessions, got %v", got)
	}

	families, err := registry.Gather()
	if err != nil {
		t.Fatalf("Gather() error = %v", err)
	}
	if len(families) == 0 {
		t.Error("expected gathered metric families")
	}
}
