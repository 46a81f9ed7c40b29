package logger

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/apex/log"
)

// Environment variables that configure the log file path and level.
const (
	envLogPath  = "MEMOCACHE_LOG"
	envLogLevel = "MEMOCACHE_LOG_LEVEL"
)

const timeFormat = "2006/01/02 15:04:05.000000"

var (
	mu      sync.Mutex
	logFile *os.File
)

// InitFromEnv initializes the logger using MEMOCACHE_LOG or a default path
// next to the executable, at the MEMOCACHE_LOG_LEVEL level (info by default).
func InitFromEnv() error {
	path := os.Getenv(envLogPath)
	if path == "" {
		if exePath, err := os.Executable(); err == nil {
			path = filepath.Join(filepath.Dir(exePath), "memocache.log")
		} else {
			path = "./memocache.log"
		}
	}
	return Init(path, os.Getenv(envLogLevel))
}

// Init points the apex default logger at the file at path, creating parent
// directories as needed. An empty level means info.
func Init(path, level string) error {
	lvl, err := parseLevel(level)
	if err != nil {
		return err
	}

	mu.Lock()
	defer mu.Unlock()
	if logFile != nil {
		log.SetLevel(lvl)
		return nil
	}
	if err := ensureParentDir(path); err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	logFile = f
	log.SetHandler(NewHandler(f))
	log.SetLevel(lvl)
	return nil
}

// Close closes the underlying log file, if open.
func Close() error {
	mu.Lock()
	defer mu.Unlock()
	if logFile == nil {
		return nil
	}
	err := logFile.Close()
	logFile = nil
	return err
}

func parseLevel(level string) (log.Level, error) {
	if level == "" {
		return log.InfoLevel, nil
	}
	lvl, err := log.ParseLevel(strings.ToLower(level))
	if err != nil {
		return 0, fmt.Errorf("%s: %w", envLogLevel, err)
	}
	return lvl, nil
}

// Handler writes one line per entry: timestamp, [LEVEL], message, then the
// entry's fields as key=value in name order.
type Handler struct {
	mu sync.Mutex
	w  io.Writer
}

func NewHandler(w io.Writer) *Handler {
	return &Handler{w: w}
}

// HandleLog implements log.Handler.
func (h *Handler) HandleLog(e *log.Entry) error {
	var sb strings.Builder
	sb.WriteString(e.Timestamp.Format(timeFormat))
	sb.WriteString(" [")
	sb.WriteString(strings.ToUpper(e.Level.String()))
	sb.WriteString("] ")
	sb.WriteString(e.Message)
	for _, name := range e.Fields.Names() {
		fmt.Fprintf(&sb, " %s=%v", name, e.Fields.Get(name))
	}
	sb.WriteByte('\n')

	h.mu.Lock()
	defer h.mu.Unlock()
	_, err := io.WriteString(h.w, sb.String())
	return err
}

func ensureParentDir(path string) error {
	dir := filepath.Dir(path)
	if dir == "." || dir == "" {
		return nil
	}
	return os.MkdirAll(dir, 0o755)
}
