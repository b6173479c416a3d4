// Package logger writes area tagged log lines to a size rotated file.
// Warnings and errors are echoed to stderr as well.
package logger

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/antibyte/webterm/pkg/configuration"
)

// Level orders messages by severity.
type Level int32

const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarn
	LevelError
	LevelFatal
)

func (l Level) String() string {
	switch l {
	case LevelDebug:
		return "DEBUG"
	case LevelInfo:
		return "INFO"
	case LevelWarn:
		return "WARN"
	case LevelError:
		return "ERROR"
	}
	return "FATAL"
}

// ParseLevel maps a config value to a Level. Unknown names mean INFO.
func ParseLevel(s string) Level {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "DEBUG":
		return LevelDebug
	case "WARN", "WARNING":
		return LevelWarn
	case "ERROR":
		return LevelError
	case "FATAL":
		return LevelFatal
	}
	return LevelInfo
}

// LogArea tags a message with the subsystem that wrote it. Each area is
// switched with log_<area> in [Debug].
type LogArea string

const (
	AreaWebSocket  LogArea = "websocket"
	AreaTerminal   LogArea = "terminal"
	AreaShell      LogArea = "shell"
	AreaFileSystem LogArea = "filesystem"
	AreaStorage    LogArea = "storage"
	AreaAuth       LogArea = "auth"
	AreaSecurity   LogArea = "security"
	AreaConfig     LogArea = "config"
	AreaGeneral    LogArea = "general"
)

// Areas lists every area in a fixed order.
var Areas = []LogArea{
	AreaWebSocket, AreaTerminal, AreaShell, AreaFileSystem, AreaStorage,
	AreaAuth, AreaSecurity, AreaConfig, AreaGeneral,
}

// Options configures a Logger.
type Options struct {
	Enabled   bool
	Level     Level
	Areas     map[LogArea]bool
	Path      string // empty writes nowhere but the console
	MaxSizeMB int
	Keep      int       // rotated files kept beside Path
	Console   io.Writer // receives WARN and above; nil disables
}

// OptionsFromConfig reads the [Debug] section.
func OptionsFromConfig() Options {
	opts := Options{
		Enabled:   configuration.GetBool("Debug", "enable_debug_logging", true),
		Level:     ParseLevel(configuration.GetString("Debug", "log_level", "INFO")),
		Areas:     make(map[LogArea]bool, len(Areas)),
		Path:      configuration.GetString("Debug", "log_file", "webterm.log"),
		MaxSizeMB: configuration.GetInt("Debug", "max_log_size_mb", 10),
		Keep:      configuration.GetInt("Debug", "log_rotation_count", 3),
		Console:   os.Stderr,
	}
	for _, a := range Areas {
		opts.Areas[a] = configuration.GetBool("Debug", "log_"+string(a), false)
	}
	return opts
}

// Logger filters by level and area and writes one line per call.
type Logger struct {
	enabled atomic.Bool
	level   atomic.Int32
	areas   map[LogArea]*atomic.Bool

	mu      sync.Mutex
	file    *rotatingFile
	console io.Writer
}

// New builds a Logger, opening the log file when opts.Path is set.
func New(opts Options) (*Logger, error) {
	l := &Logger{areas: make(map[LogArea]*atomic.Bool, len(Areas)), console: opts.Console}
	l.enabled.Store(opts.Enabled)
	l.level.Store(int32(opts.Level))
	for _, a := range Areas {
		flag := new(atomic.Bool)
		flag.Store(opts.Areas[a])
		l.areas[a] = flag
	}
	if opts.Path != "" {
		f, err := openRotating(opts.Path, int64(opts.MaxSizeMB)<<20, opts.Keep)
		if err != nil {
			return nil, fmt.Errorf("open log file: %w", err)
		}
		l.file = f
	}
	return l, nil
}

// SetArea switches one area on or off.
func (l *Logger) SetArea(area LogArea, on bool) {
	if flag, ok := l.areas[area]; ok {
		flag.Store(on)
	}
}

func (l *Logger) enabledFor(level Level, area LogArea) bool {
	if !l.enabled.Load() || Level(l.level.Load()) > level {
		return false
	}
	flag, ok := l.areas[area]
	return ok && flag.Load()
}

// Logf writes one line. depth is the number of frames between the caller
// of interest and Logf.
func (l *Logger) Logf(depth int, level Level, area LogArea, format string, args ...interface{}) {
	if level < LevelFatal && !l.enabledFor(level, area) {
		return
	}
	msg := fmt.Sprintf(format, args...)
	tag := strings.ToUpper(string(area))

	_, file, line, _ := runtime.Caller(depth + 1)
	entry := fmt.Sprintf("[%s] %s [%s:%d] [%s] %s\n",
		time.Now().Format("2006-01-02 15:04:05.000"), level, filepath.Base(file), line, tag, msg)

	l.mu.Lock()
	defer l.mu.Unlock()
	if l.file != nil {
		l.file.WriteString(entry)
	}
	if l.console != nil && level >= LevelWarn {
		fmt.Fprintf(l.console, "%s [%s] [%s] %s\n", time.Now().Format("2006/01/02 15:04:05"), level, tag, msg)
	}
}

// Close flushes and closes the log file.
func (l *Logger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.file == nil {
		return nil
	}
	err := l.file.Close()
	l.file = nil
	return err
}

// rotatingFile renames path to path.1, path.1 to path.2 and so on once
// it grows past maxSize.
type rotatingFile struct {
	path    string
	maxSize int64
	keep    int
	f       *os.File
	size    int64
}

func openRotating(path string, maxSize int64, keep int) (*rotatingFile, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, err
	}
	r := &rotatingFile{path: path, maxSize: maxSize, keep: keep, f: f}
	if st, err := f.Stat(); err == nil {
		r.size = st.Size()
	}
	return r, nil
}

func (r *rotatingFile) WriteString(s string) {
	if r.f == nil {
		return
	}
	n, err := r.f.WriteString(s)
	if err != nil {
		return
	}
	r.size += int64(n)
	if r.maxSize > 0 && r.size > r.maxSize {
		r.rotate()
	}
}

func (r *rotatingFile) rotate() {
	r.f.Close()
	if r.keep > 0 {
		os.Remove(fmt.Sprintf("%s.%d", r.path, r.keep))
		for i := r.keep - 1; i >= 1; i-- {
			os.Rename(fmt.Sprintf("%s.%d", r.path, i), fmt.Sprintf("%s.%d", r.path, i+1))
		}
		os.Rename(r.path, r.path+".1")
	}
	f, err := os.OpenFile(r.path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0644)
	if err != nil {
		r.f = nil
		return
	}
	r.f = f
	r.size = 0
}

func (r *rotatingFile) Close() error {
	if r.f == nil {
		return nil
	}
	r.f.Sync()
	return r.f.Close()
}

var (
	global     atomic.Pointer[Logger]
	globalOnce sync.Once
)

// Initialize installs the process wide logger from the [Debug] section.
func Initialize() error {
	var err error
	globalOnce.Do(func() {
		var l *Logger
		l, err = New(OptionsFromConfig())
		if err == nil {
			global.Store(l)
		}
	})
	return err
}

// SetDefault replaces the process wide logger.
func SetDefault(l *Logger) {
	global.Store(l)
}

func logf(level Level, area LogArea, format string, args ...interface{}) {
	if l := global.Load(); l != nil {
		l.Logf(2, level, area, format, args...)
	}
}

func Debug(area LogArea, format string, args ...interface{}) {
	logf(LevelDebug, area, format, args...)
}

func Info(area LogArea, format string, args ...interface{}) {
	logf(LevelInfo, area, format, args...)
}

func Warn(area LogArea, format string, args ...interface{}) {
	logf(LevelWarn, area, format, args...)
}

func Error(area LogArea, format string, args ...interface{}) {
	logf(LevelError, area, format, args...)
}

// Fatal logs regardless of filters and exits.
func Fatal(area LogArea, format string, args ...interface{}) {
	if l := global.Load(); l != nil {
		l.Logf(1, LevelFatal, area, format, args...)
		l.Close()
	} else {
		fmt.Fprintf(os.Stderr, "[FATAL] [%s] %s\n", strings.ToUpper(string(area)), fmt.Sprintf(format, args...))
	}
	os.Exit(1)
}

// Close closes the process wide logger's file.
func Close() {
	if l := global.Load(); l != nil {
		l.Close()
	}
}
