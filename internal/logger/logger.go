package logger

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

var (
	Logger *logrus.Logger // Main logger instance
	initMu sync.Mutex
)

// Options controls where and how much the application logs.
type Options struct {
	Level string // DEBUG, INFO, WARN, ERROR
	File  string // empty logs to stderr
}

// Initialize sets up the logger with the given options
func Initialize(opts Options) {
	initMu.Lock()
	defer initMu.Unlock()

	l := logrus.New()
	l.SetLevel(parseLevel(opts.Level))
	l.SetFormatter(&logrus.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: time.RFC3339,
		DisableColors:   opts.File != "",
	})
	l.SetOutput(os.Stderr)

	if opts.File != "" {
		if err := os.MkdirAll(filepath.Dir(opts.File), 0755); err != nil {
			fmt.Printf("Failed to create logs directory: %v\n", err)
		} else if f, err := os.OpenFile(opts.File, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644); err != nil {
			fmt.Printf("Failed to open log file: %v\n", err)
		} else {
			l.SetOutput(f)
			l.SetReportCaller(true)
		}
	}

	Logger = l
	l.WithFields(logrus.Fields{
		"log_level": l.GetLevel().String(),
		"log_file":  opts.File,
	}).Info("Logging system initialized")
}

func parseLevel(s string) logrus.Level {
	switch strings.ToUpper(s) {
	case "DEBUG":
		return logrus.DebugLevel
	case "WARN":
		return logrus.WarnLevel
	case "ERROR":
		return logrus.ErrorLevel
	default:
		return logrus.InfoLevel
	}
}

// GetLogger returns the configured main logger instance
func GetLogger() *logrus.Logger {
	initMu.Lock()
	l := Logger
	initMu.Unlock()
	if l == nil {
		Initialize(Options{Level: os.Getenv("LOG_LEVEL")})
		initMu.Lock()
		l = Logger
		initMu.Unlock()
	}
	return l
}

// WithContext creates a logger with additional context fields
func WithContext(fields map[string]interface{}) *logrus.Entry {
	return GetLogger().WithFields(fields)
}

// WithJob creates a logger with job context
func WithJob(jobID string, cursor int) *logrus.Entry {
	return GetLogger().WithFields(logrus.Fields{
		"job_id":    jobID,
		"cursor":    cursor,
		"component": "job_service",
	})
}

// WithProvider creates a logger with translation provider context
func WithProvider(operation, language string) *logrus.Entry {
	return GetLogger().WithFields(logrus.Fields{
		"component": "translation_provider",
		"operation": operation,
		"language":  language,
	})
}

// WithPublisher creates a logger with CMS publisher context
func WithPublisher(baseURL, locator string) *logrus.Entry {
	return GetLogger().WithFields(logrus.Fields{
		"component": "wordpress",
		"base_url":  baseURL,
		"locator":   locator,
	})
}

// WithError creates a logger with error context
func WithError(err error, component string) *logrus.Entry {
	fields := logrus.Fields{
		"error":     err.Error(),
		"component": component,
	}

	if GetLogger().GetLevel() >= logrus.DebugLevel {
		fields["stack_trace"] = getStackTrace()
	}

	return GetLogger().WithFields(fields)
}

func getStackTrace() string {
	var stack []string
	for i := 1; i < 10; i++ {
		if pc, file, line, ok := runtime.Caller(i); ok {
			fn := runtime.FuncForPC(pc)
			stack = append(stack, fmt.Sprintf("%s:%d %s", file, line, fn.Name()))
		}
	}
	return strings.Join(stack, "\n")
}

func Debug(msg string, fields map[string]interface{}) {
	GetLogger().WithFields(fields).Debug(msg)
}

func Info(msg string, fields map[string]interface{}) {
	GetLogger().WithFields(fields).Info(msg)
}

func Warn(msg string, fields map[string]interface{}) {
	GetLogger().WithFields(fields).Warn(msg)
}

func Error(msg string, fields map[string]interface{}) {
	GetLogger().WithFields(fields).Error(msg)
}

func Fatal(msg string, fields map[string]interface{}) {
	GetLogger().WithFields(fields).Fatal(msg)
}
