package logger_test

import (
	"bytes"
	"log"
	"strings"
	"testing"

	"github.com/RoboticBase/uoa-poc2-controller/pkg/logger"
)

// captureOutput redirects the standard "log" package's writer for the
// duration of fn, since SimpleLogger logs through log.Println.
func captureOutput(t *testing.T, fn func()) string {
	t.Helper()
	var buf bytes.Buffer
	prev := log.Writer()
	log.SetOutput(&buf)
	defer log.SetOutput(prev)
	fn()
	return buf.String()
}

func TestSimpleLogger_IncludesEveryFieldInOutput(t *testing.T) {
	l := logger.NewSimpleLogger()

	output := captureOutput(t, func() {
		l.Info("dispatched move command", map[string]interface{}{"robot_id": "robot-1", "cmd": "navi"})
	})

	assert := func(substr string) {
		if !strings.Contains(output, substr) {
			t.Errorf("log output %q missing %q", output, substr)
		}
	}
	assert("[INFO]")
	assert("dispatched move command")
	assert("robot_id=robot-1")
	assert("cmd=navi")
}

func TestSimpleLogger_NilFieldsDoesNotPanic(t *testing.T) {
	l := logger.NewSimpleLogger()
	output := captureOutput(t, func() {
		l.Warn("no fields here", nil)
	})
	if !strings.Contains(output, "[WARN] no fields here") {
		t.Errorf("unexpected output: %q", output)
	}
}

func TestSimpleLogger_SetLevelGatesLowerSeverityMessages(t *testing.T) {
	l := logger.NewSimpleLogger()
	l.SetLevel("warn")

	output := captureOutput(t, func() {
		l.Debug("should be suppressed", nil)
		l.Info("should also be suppressed", nil)
		l.Warn("should appear", nil)
	})

	if strings.Contains(output, "should be suppressed") || strings.Contains(output, "should also be suppressed") {
		t.Errorf("debug/info must be gated out at warn level, got: %q", output)
	}
	if !strings.Contains(output, "should appear") {
		t.Errorf("warn message missing from output: %q", output)
	}
}

func TestSimpleLogger_SetLevelIsCaseInsensitive(t *testing.T) {
	l := logger.NewSimpleLogger()
	l.SetLevel("ERROR")

	output := captureOutput(t, func() {
		l.Warn("should be suppressed", nil)
		l.Error("should appear", nil)
	})

	if strings.Contains(output, "should be suppressed") {
		t.Errorf("warn must be gated out at error level, got: %q", output)
	}
	if !strings.Contains(output, "should appear") {
		t.Errorf("error message missing from output: %q", output)
	}
}

func TestSimpleLogger_UnknownLevelLeavesPreviousLevelUnchanged(t *testing.T) {
	l := logger.NewSimpleLogger()
	l.SetLevel("warn")
	l.SetLevel("not-a-level")

	output := captureOutput(t, func() {
		l.Info("should still be suppressed", nil)
	})
	if strings.Contains(output, "should still be suppressed") {
		t.Errorf("an unrecognized SetLevel value must not reset the level, got: %q", output)
	}
}

func BenchmarkSimpleLogger_Info(b *testing.B) {
	l := logger.NewSimpleLogger()
	log.SetOutput(bytes.NewBuffer(nil))
	defer log.SetOutput(log.Writer())

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		l.Info("benchmark message", map[string]interface{}{"iteration": i})
	}
}
