package logger

// Logger is the structured logging contract used throughout the control
// plane. Fields are passed as a single map rather than a flat variadic
// list, matching the call convention every package in this repo actually
// uses (an entity/robot id, a result, an error, bundled per call site).
type Logger interface {
	Debug(msg string, fields map[string]interface{})
	Info(msg string, fields map[string]interface{})
	Warn(msg string, fields map[string]interface{})
	Error(msg string, fields map[string]interface{})
	SetLevel(level string)
}

// LogLevel represents the logging level
type LogLevel int

const (
	DebugLevel LogLevel = iota
	InfoLevel
	WarnLevel
	ErrorLevel
)
