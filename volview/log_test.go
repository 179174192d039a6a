package volview

import (
	"fmt"
	"strings"
	"testing"
)

type recordingLogger struct {
	lines []string
}

func (r *recordingLogger) record(sev, format string, args ...interface{}) {
	r.lines = append(r.lines, sev+" "+fmt.Sprintf(format, args...))
}

func (r *recordingLogger) Debugf(format string, args ...interface{}) {
	r.record("DEBUG", format, args...)
}

func (r *recordingLogger) Infof(format string, args ...interface{}) {
	r.record("INFO", format, args...)
}

func (r *recordingLogger) Warningf(format string, args ...interface{}) {
	r.record("WARNING", format, args...)
}

func (r *recordingLogger) Errorf(format string, args ...interface{}) {
	r.record("ERROR", format, args...)
}

func (r *recordingLogger) Shutdown() {}

func TestLogLevels(t *testing.T) {
	rec := &recordingLogger{}
	oldLogger, oldLevel := logger, level
	defer func() { logger, level, Verbose = oldLogger, oldLevel, false }()
	logger = rec

	SetLogMode(WarningMode)
	Debugf("d")
	Infof("i")
	Warningf("w")
	Errorf("e")
	NewTimeLog().Infof("decoded")
	if strings.Join(rec.lines, ",") != "WARNING w,ERROR e" {
		t.Errorf("warning level wrote %q", rec.lines)
	}

	rec.lines = nil
	Verbose = true
	NewTimeLog().Debugf("rendered %s", "slice")
	if len(rec.lines) != 1 || !strings.HasPrefix(rec.lines[0], "DEBUG rendered slice: ") {
		t.Errorf("verbose timed debug wrote %q", rec.lines)
	}
}
