package volview

import (
	"fmt"
	"log"

	"github.com/natefinch/lumberjack"
)

// stdLogger prefixes the severity and writes through the standard log
// package, which SetLogger points at a rotating file.
type stdLogger struct {
	file *lumberjack.Logger
}

var logger Logger = stdLogger{}

// LogConfig is the [logging] section of the server TOML file.
type LogConfig struct {
	Logfile string
	MaxSize int `toml:"max_log_size"` // megabytes
	MaxAge  int `toml:"max_log_age"`  // days
}

// SetLogger sends log messages to the configured file, rotating it by size
// and age.  Without a file messages go to stderr.
func (c *LogConfig) SetLogger() {
	if c == nil || c.Logfile == "" {
		Infof("No log file configured, logging to stderr\n")
		return
	}
	fmt.Printf("Logging to %s\n", c.Logfile)
	f := &lumberjack.Logger{
		Filename: c.Logfile,
		MaxSize:  c.MaxSize,
		MaxAge:   c.MaxAge,
	}
	log.SetOutput(f)
	logger = stdLogger{f}
}

func (l stdLogger) Debugf(format string, args ...interface{}) {
	log.Printf(" DEBUG "+format, args...)
}

func (l stdLogger) Infof(format string, args ...interface{}) {
	log.Printf(" INFO "+format, args...)
}

func (l stdLogger) Warningf(format string, args ...interface{}) {
	log.Printf(" WARNING "+format, args...)
}

func (l stdLogger) Errorf(format string, args ...interface{}) {
	log.Printf(" ERROR "+format, args...)
}

func (l stdLogger) Shutdown() {
	if l.file != nil {
		log.Printf(" INFO Closing log file\n")
		l.file.Close()
	}
}
