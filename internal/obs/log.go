package obs

import (
	"encoding/json"
	"log"
	"os"
	"sync"
	"time"
)

var (
	loggerOnce sync.Once
	logger     *log.Logger
)

// Logger returns the shared structured logger used across the service.
func Logger() *log.Logger {
	loggerOnce.Do(func() {
		logger = log.New(os.Stdout, "", 0)
	})
	return logger
}

// LogRequest emits a structured JSON log line with common HTTP fields.
func LogRequest(entry map[string]any) {
	emit(entry)
}

// Info logs msg at info level with optional fields.
func Info(msg string, fields map[string]any) { logAt("info", msg, fields) }

// Warn logs msg at warn level with optional fields.
func Warn(msg string, fields map[string]any) { logAt("warn", msg, fields) }

// Error logs msg at error level. err, when non-nil, is stored under "error".
func Error(msg string, err error, fields map[string]any) {
	if err != nil {
		merged := make(map[string]any, len(fields)+1)
		for k, v := range fields {
			merged[k] = v
		}
		merged["error"] = err.Error()
		fields = merged
	}
	logAt("error", msg, fields)
}

func logAt(level, msg string, fields map[string]any) {
	entry := make(map[string]any, len(fields)+3)
	for k, v := range fields {
		entry[k] = v
	}
	entry["ts"] = time.Now().UTC().Format(time.RFC3339Nano)
	entry["level"] = level
	entry["msg"] = msg
	emit(entry)
}

func emit(entry map[string]any) {
	data, err := json.Marshal(entry)
	if err != nil {
		Logger().Println(`{"ts":"error","level":"error","msg":"log marshal failed"}`)
		return
	}
	Logger().Println(string(data))
}
