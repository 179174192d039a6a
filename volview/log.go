package volview

import "time"

// LogLevel is the lowest severity that gets written.
type LogLevel uint

const (
	DebugMode LogLevel = iota
	InfoMode
	WarningMode
	ErrorMode
)

var (
	// Verbose writes debug messages whatever the log level.
	Verbose bool

	level = InfoMode
)

// Logger writes leveled, printf-style messages.
type Logger interface {
	Debugf(format string, args ...interface{})
	Infof(format string, args ...interface{})
	Warningf(format string, args ...interface{})
	Errorf(format string, args ...interface{})

	// Shutdown flushes and closes any log file.
	Shutdown()
}

// SetLogMode sets the lowest severity written, e.g. WarningMode silences
// Debugf and Infof.
func SetLogMode(newLevel LogLevel) {
	level = newLevel
}

func debugOn() bool {
	return level <= DebugMode || Verbose
}

func Debugf(format string, args ...interface{}) {
	if debugOn() {
		logger.Debugf(format, args...)
	}
}

func Infof(format string, args ...interface{}) {
	if level <= InfoMode {
		logger.Infof(format, args...)
	}
}

func Warningf(format string, args ...interface{}) {
	if level <= WarningMode {
		logger.Warningf(format, args...)
	}
}

func Errorf(format string, args ...interface{}) {
	logger.Errorf(format, args...)
}

// Shutdown closes any log file.
func Shutdown() {
	logger.Shutdown()
}

// TimeLog appends the time elapsed since its creation to each message, e.g.
//
//	timedLog := NewTimeLog()
//	vol, err := nifti.Decode(r)
//	timedLog.Infof("Decoded %s", name)  // "Decoded CTA_1.nii.gz: 412ms"
type TimeLog struct {
	start time.Time
}

func NewTimeLog() TimeLog {
	return TimeLog{time.Now()}
}

func (t TimeLog) Debugf(format string, args ...interface{}) {
	if debugOn() {
		logger.Debugf(format+": %s\n", append(args, time.Since(t.start))...)
	}
}

func (t TimeLog) Infof(format string, args ...interface{}) {
	if level <= InfoMode {
		logger.Infof(format+": %s\n", append(args, time.Since(t.start))...)
	}
}
