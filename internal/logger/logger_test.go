package logger

import (
	"bytes"
	"os"
	"strings"
	"testing"
)

func capture(t *testing.T) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	SetOutput(&buf)
	noColor = true
	t.Cleanup(func() {
		SetOutput(os.Stderr)
		SetLevel("info")
	})
	return &buf
}

func TestSetLevel_FiltersBelowThreshold(t *testing.T) {
	buf := capture(t)
	SetLevel("warn")

	Info("hidden %d", 1)
	Debug("hidden too")
	Warn("shown %s", "warning")
	Error("always")

	got := buf.String()
	if strings.Contains(got, "hidden") {
		t.Errorf("expected info/debug to be filtered, got %q", got)
	}
	if !strings.Contains(got, "shown warning") || !strings.Contains(got, "always") {
		t.Errorf("expected warn and error lines, got %q", got)
	}
}

func TestWS_RoutingLinesOnlyAtDebug(t *testing.T) {
	buf := capture(t)

	WS("forward", "ui -> agent")
	if buf.Len() != 0 {
		t.Fatalf("expected routing line to be suppressed at info, got %q", buf.String())
	}
	WS("connected", "conn-1")
	if !strings.Contains(buf.String(), "ws:connected") {
		t.Errorf("expected connected line, got %q", buf.String())
	}

	SetLevel("debug")
	WS("forward", "ui -> agent")
	if !strings.Contains(buf.String(), "ui -> agent") {
		t.Errorf("expected routing line at debug, got %q", buf.String())
	}
}
