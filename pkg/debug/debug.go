package debug

import (
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"regexp"
	"runtime"
	"sort"
	"strings"
	"sync"
	"time"
)

// LogLevel represents the severity of a log message
type LogLevel int

const (
	LevelDebug LogLevel = iota
	LevelInfo
	LevelWarning
	LevelError
)

var (
	// mu protects isEnabled, currentLevel and logger
	mu           sync.RWMutex
	isEnabled    bool
	currentLevel LogLevel
	logger       *log.Logger
	levelNames   = map[LogLevel]string{
		LevelDebug:   "DEBUG",
		LevelInfo:    "INFO",
		LevelWarning: "WARNING",
		LevelError:   "ERROR",
	}
	levelMap = map[string]LogLevel{
		"DEBUG":   LevelDebug,
		"INFO":    LevelInfo,
		"WARNING": LevelWarning,
		"WARN":    LevelWarning,
		"ERROR":   LevelError,
	}
)

func init() {
	logger = log.New(os.Stdout, "", 0)
	Reinitialize()
}

// IsDebugEnabled returns whether logging is enabled
func IsDebugEnabled() bool {
	mu.RLock()
	defer mu.RUnlock()
	return isEnabled
}

// GetLogLevel returns the current log level
func GetLogLevel() LogLevel {
	mu.RLock()
	defer mu.RUnlock()
	return currentLevel
}

// GetLogLevelName returns the name of the current log level
func GetLogLevelName() string {
	mu.RLock()
	defer mu.RUnlock()
	return levelNames[currentLevel]
}

// SetEnabled enables or disables logging at runtime
func SetEnabled(enabled bool) {
	mu.Lock()
	defer mu.Unlock()
	isEnabled = enabled
}

// SetLogLevel sets the minimum log level at runtime
func SetLogLevel(level LogLevel) {
	mu.Lock()
	defer mu.Unlock()
	currentLevel = level
}

// SetOutput redirects log output, mainly for tests
func SetOutput(w io.Writer) {
	mu.Lock()
	defer mu.Unlock()
	logger = log.New(w, "", 0)
}

// ParseLevel converts a string to LogLevel
func ParseLevel(levelStr string) (LogLevel, bool) {
	level, exists := levelMap[strings.ToUpper(levelStr)]
	return level, exists
}

// Log prints a structured message at INFO level. Fields are printed in key order
// so that lines for the same event are greppable.
func Log(message string, fields map[string]interface{}) {
	if len(fields) == 0 {
		LogWithLevel(LevelInfo, "%s", message)
		return
	}
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	fieldStrs := make([]string, 0, len(keys))
	for _, k := range keys {
		fieldStrs = append(fieldStrs, fmt.Sprintf("%s=%v", k, fields[k]))
	}
	LogWithLevel(LevelInfo, "%s [%s]", message, strings.Join(fieldStrs, ", "))
}

func LogWithLevel(level LogLevel, format string, v ...interface{}) {
	mu.RLock()
	enabled := isEnabled
	minLevel := currentLevel
	out := logger
	mu.RUnlock()

	if !enabled || level < minLevel {
		return
	}

	pc, file, line, _ := runtime.Caller(2)
	funcName := "unknown"
	if fn := runtime.FuncForPC(pc); fn != nil {
		funcName = fn.Name()
	}

	message := fmt.Sprintf(format, v...)
	timestamp := time.Now().Format("2006-01-02 15:04:05.000")

	out.Printf("[%s] [%s] [%s:%d] [%s] %s\n",
		levelNames[level],
		timestamp,
		file,
		line,
		funcName,
		message,
	)
}

// Debug logs a debug level message
func Debug(format string, v ...interface{}) {
	LogWithLevel(LevelDebug, format, v...)
}

// Info logs an info level message
func Info(format string, v ...interface{}) {
	LogWithLevel(LevelInfo, format, v...)
}

// Warning logs a warning level message
func Warning(format string, v ...interface{}) {
	LogWithLevel(LevelWarning, format, v...)
}

// Error logs an error level message
func Error(format string, v ...interface{}) {
	LogWithLevel(LevelError, format, v...)
}

// Reinitialize reloads DEBUG and LOG_LEVEL from the environment
func Reinitialize() {
	debugEnv := os.Getenv("DEBUG")
	enabled := debugEnv == "true" || debugEnv == "1"

	level := LevelInfo
	if l, exists := levelMap[strings.ToUpper(os.Getenv("LOG_LEVEL"))]; exists {
		level = l
	}

	mu.Lock()
	isEnabled = enabled
	currentLevel = level
	mu.Unlock()

	if enabled {
		Info("Logging initialized - Enabled: %v, Level: %s", enabled, levelNames[level])
	}
}

// sensitiveHeaders maps header names to their redaction field names
var sensitiveHeaders = map[string]string{
	"X-Api-Key":     "api_key",
	"X-Agent-Key":   "agent_key",
	"Authorization": "authorization",
	"Cookie":        "cookie",
}

// SanitizeHeaders returns a string representation of headers with credentials replaced
// by [REDACTED:field:len=N]
func SanitizeHeaders(headers http.Header) string {
	sanitized := make(http.Header)
	for key, values := range headers {
		if fieldName, isSensitive := sensitiveHeaders[http.CanonicalHeaderKey(key)]; isSensitive {
			totalLen := 0
			for _, v := range values {
				totalLen += len(v)
			}
			sanitized[key] = []string{fmt.Sprintf("[REDACTED:%s:len=%d]", fieldName, totalLen)}
		} else {
			sanitized[key] = values
		}
	}
	return fmt.Sprintf("%v", sanitized)
}

// plaintextPattern matches "plaintext":"..." pairs in JSON payloads
var plaintextPattern = regexp.MustCompile(`("plaintext"\s*:\s*)"(?:[^"\\]|\\.)*"`)

// SanitizePayload hides cracked plaintexts before a raw agent payload is logged
func SanitizePayload(content string) string {
	return plaintextPattern.ReplaceAllString(content, `$1"[REDACTED]"`)
}
