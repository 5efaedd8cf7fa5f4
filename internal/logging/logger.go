// Package logging provides config-driven categorized file-based logging for
// the graph engine. Logs are written to <data-dir>/logs/ with separate files
// per category. Logging is controlled by debug_mode in the engine config --
// when false, no logs are written.
package logging

import (
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// Category represents a log category/system.
type Category string

const (
	CategoryBoot         Category = "boot"
	CategoryCypher       Category = "cypher"
	CategoryVectorIndex  Category = "vectorindex"
	CategoryEntities     Category = "entities"
	CategoryRelationships Category = "relationships"
	CategorySearch       Category = "search"
	CategoryTemporal     Category = "temporal"
	CategoryEmbedding    Category = "embedding"
	CategoryAstParse     Category = "astparse"
	CategorySync         Category = "sync"
	CategoryMonitor      Category = "monitor"
)

// loggingConfig mirrors the relevant parts of config.LoggingConfig
// to avoid circular imports.
type loggingConfig struct {
	DebugMode  bool            `json:"debug_mode"`
	Categories map[string]bool `json:"categories"`
	Level      string          `json:"level"`
	JSONFormat bool            `json:"json_format"`
}

type configFile struct {
	Logging loggingConfig `json:"logging"`
}

// StructuredLogEntry is a JSON log entry suitable for downstream shipping.
type StructuredLogEntry struct {
	Timestamp int64                  `json:"ts"`
	Category  string                 `json:"cat"`
	Level     string                 `json:"lvl"`
	Message   string                 `json:"msg"`
	Fields    map[string]interface{} `json:"fields,omitempty"`
}

// Logger wraps a standard logger with category and file output.
type Logger struct {
	category Category
	logger   *log.Logger
	file     *os.File
}

var (
	loggers      = make(map[Category]*Logger)
	loggersMu    sync.RWMutex
	logsDir      string
	dataDir      string
	cfg          loggingConfig
	configMu     sync.RWMutex
	logLevel     int
)

const (
	LevelDebug = 0
	LevelInfo  = 1
	LevelWarn  = 2
	LevelError = 3
)

// Initialize sets up the logging directory using the given data directory.
// Should be called once at startup.
func Initialize(dir string) error {
	if dir == "" {
		return fmt.Errorf("data directory required")
	}

	dataDir = dir
	logsDir = filepath.Join(dataDir, "logs")

	if err := loadConfig(); err != nil {
		fmt.Fprintf(os.Stderr, "[logging] Warning: could not load config: %v\n", err)
		cfg.DebugMode = false
	}

	if !cfg.DebugMode {
		return nil
	}

	if err := os.MkdirAll(logsDir, 0755); err != nil {
		return fmt.Errorf("failed to create logs directory: %w", err)
	}

	boot := Get(CategoryBoot)
	boot.Info("=== graph engine logging initialized ===")
	boot.Info("data dir: %s", dataDir)
	boot.Info("debug mode: %v", cfg.DebugMode)
	boot.Info("log level: %s", cfg.Level)

	return nil
}

func loadConfig() error {
	configMu.Lock()
	defer configMu.Unlock()

	configPath := filepath.Join(dataDir, "config.json")
	data, err := os.ReadFile(configPath)
	if err != nil {
		if os.IsNotExist(err) {
			cfg.DebugMode = false
			return nil
		}
		return err
	}

	var cf configFile
	if err := json.Unmarshal(data, &cf); err != nil {
		return fmt.Errorf("failed to parse config: %w", err)
	}

	cfg = cf.Logging
	switch cfg.Level {
	case "debug":
		logLevel = LevelDebug
	case "warn", "warning":
		logLevel = LevelWarn
	case "error":
		logLevel = LevelError
	default:
		logLevel = LevelInfo
	}
	return nil
}

// ReloadConfig reloads the config from disk.
func ReloadConfig() error {
	return loadConfig()
}

// IsDebugMode returns whether debug logging is enabled.
func IsDebugMode() bool {
	configMu.RLock()
	defer configMu.RUnlock()
	return cfg.DebugMode
}

// IsCategoryEnabled returns whether a specific category is enabled.
func IsCategoryEnabled(category Category) bool {
	configMu.RLock()
	defer configMu.RUnlock()

	if !cfg.DebugMode {
		return false
	}
	if cfg.Categories == nil {
		return true
	}
	enabled, exists := cfg.Categories[string(category)]
	if !exists {
		return true
	}
	return enabled
}

// Get returns (or creates) a logger for the given category.
// Returns a no-op logger if debug mode is disabled or category is disabled.
func Get(category Category) *Logger {
	if !IsCategoryEnabled(category) {
		return &Logger{category: category}
	}
	if logsDir == "" {
		return &Logger{category: category}
	}

	loggersMu.RLock()
	if l, ok := loggers[category]; ok {
		loggersMu.RUnlock()
		return l
	}
	loggersMu.RUnlock()

	loggersMu.Lock()
	defer loggersMu.Unlock()

	if l, ok := loggers[category]; ok {
		return l
	}

	date := time.Now().Format("2006-01-02")
	filename := fmt.Sprintf("%s_%s.log", date, category)
	logPath := filepath.Join(logsDir, filename)

	file, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		fmt.Fprintf(os.Stderr, "[logging] Warning: could not open log file %s: %v\n", logPath, err)
		return &Logger{category: category}
	}

	l := &Logger{
		category: category,
		file:     file,
		logger:   log.New(file, "", log.Ldate|log.Ltime|log.Lmicroseconds),
	}
	loggers[category] = l
	return l
}

func (l *Logger) logJSON(level, msg string) {
	entry := StructuredLogEntry{
		Timestamp: time.Now().UnixMilli(),
		Category:  string(l.category),
		Level:     level,
		Message:   msg,
	}
	data, err := json.Marshal(entry)
	if err != nil {
		l.logger.Printf("[%s] %s", level, msg)
		return
	}
	l.logger.Printf("%s", data)
}

func (l *Logger) Debug(format string, args ...interface{}) {
	if l.logger == nil || logLevel > LevelDebug {
		return
	}
	msg := fmt.Sprintf(format, args...)
	if cfg.JSONFormat {
		l.logJSON("debug", msg)
	} else {
		l.logger.Printf("[DEBUG] %s", msg)
	}
}

func (l *Logger) Info(format string, args ...interface{}) {
	if l.logger == nil || logLevel > LevelInfo {
		return
	}
	msg := fmt.Sprintf(format, args...)
	if cfg.JSONFormat {
		l.logJSON("info", msg)
	} else {
		l.logger.Printf("[INFO] %s", msg)
	}
}

func (l *Logger) Warn(format string, args ...interface{}) {
	if l.logger == nil || logLevel > LevelWarn {
		return
	}
	msg := fmt.Sprintf(format, args...)
	if cfg.JSONFormat {
		l.logJSON("warn", msg)
	} else {
		l.logger.Printf("[WARN] %s", msg)
	}
}

func (l *Logger) Error(format string, args ...interface{}) {
	if l.logger == nil {
		return
	}
	msg := fmt.Sprintf(format, args...)
	if cfg.JSONFormat {
		l.logJSON("error", msg)
	} else {
		l.logger.Printf("[ERROR] %s", msg)
	}
}

// StructuredLog writes a fully structured log entry with custom fields.
func (l *Logger) StructuredLog(level, msg string, fields map[string]interface{}) {
	if l.logger == nil {
		return
	}
	entry := StructuredLogEntry{
		Timestamp: time.Now().UnixMilli(),
		Category:  string(l.category),
		Level:     level,
		Message:   msg,
		Fields:    fields,
	}
	if cfg.JSONFormat {
		if data, err := json.Marshal(entry); err == nil {
			l.logger.Printf("%s", data)
			return
		}
	}
	l.logger.Printf("[%s] %s | fields=%v", level, msg, fields)
}

// CloseAll closes all open log files (call at shutdown).
func CloseAll() {
	loggersMu.Lock()
	defer loggersMu.Unlock()
	for _, l := range loggers {
		if l.file != nil {
			l.file.Close()
		}
	}
	loggers = make(map[Category]*Logger)
}

// =============================================================================
// CONVENIENCE FUNCTIONS
// =============================================================================

func Boot(format string, args ...interface{})      { Get(CategoryBoot).Info(format, args...) }
func BootDebug(format string, args ...interface{}) { Get(CategoryBoot).Debug(format, args...) }
func BootError(format string, args ...interface{}) { Get(CategoryBoot).Error(format, args...) }

func Cypher(format string, args ...interface{})      { Get(CategoryCypher).Info(format, args...) }
func CypherDebug(format string, args ...interface{}) { Get(CategoryCypher).Debug(format, args...) }
func CypherWarn(format string, args ...interface{})  { Get(CategoryCypher).Warn(format, args...) }
func CypherError(format string, args ...interface{}) { Get(CategoryCypher).Error(format, args...) }

func VectorIndex(format string, args ...interface{})      { Get(CategoryVectorIndex).Info(format, args...) }
func VectorIndexDebug(format string, args ...interface{}) { Get(CategoryVectorIndex).Debug(format, args...) }
func VectorIndexError(format string, args ...interface{}) { Get(CategoryVectorIndex).Error(format, args...) }

func Entities(format string, args ...interface{})      { Get(CategoryEntities).Info(format, args...) }
func EntitiesDebug(format string, args ...interface{}) { Get(CategoryEntities).Debug(format, args...) }
func EntitiesError(format string, args ...interface{}) { Get(CategoryEntities).Error(format, args...) }

func Relationships(format string, args ...interface{}) { Get(CategoryRelationships).Info(format, args...) }
func RelationshipsDebug(format string, args ...interface{}) {
	Get(CategoryRelationships).Debug(format, args...)
}
func RelationshipsError(format string, args ...interface{}) {
	Get(CategoryRelationships).Error(format, args...)
}

func Search(format string, args ...interface{})      { Get(CategorySearch).Info(format, args...) }
func SearchDebug(format string, args ...interface{}) { Get(CategorySearch).Debug(format, args...) }
func SearchError(format string, args ...interface{}) { Get(CategorySearch).Error(format, args...) }

func Temporal(format string, args ...interface{})      { Get(CategoryTemporal).Info(format, args...) }
func TemporalDebug(format string, args ...interface{}) { Get(CategoryTemporal).Debug(format, args...) }
func TemporalError(format string, args ...interface{}) { Get(CategoryTemporal).Error(format, args...) }

func Embedding(format string, args ...interface{})      { Get(CategoryEmbedding).Info(format, args...) }
func EmbeddingDebug(format string, args ...interface{}) { Get(CategoryEmbedding).Debug(format, args...) }
func EmbeddingError(format string, args ...interface{}) { Get(CategoryEmbedding).Error(format, args...) }

func AstParse(format string, args ...interface{})      { Get(CategoryAstParse).Info(format, args...) }
func AstParseDebug(format string, args ...interface{}) { Get(CategoryAstParse).Debug(format, args...) }
func AstParseError(format string, args ...interface{}) { Get(CategoryAstParse).Error(format, args...) }

func Sync(format string, args ...interface{})      { Get(CategorySync).Info(format, args...) }
func SyncDebug(format string, args ...interface{}) { Get(CategorySync).Debug(format, args...) }
func SyncWarn(format string, args ...interface{})  { Get(CategorySync).Warn(format, args...) }
func SyncError(format string, args ...interface{}) { Get(CategorySync).Error(format, args...) }

func Monitor(format string, args ...interface{})      { Get(CategoryMonitor).Info(format, args...) }
func MonitorDebug(format string, args ...interface{}) { Get(CategoryMonitor).Debug(format, args...) }
func MonitorError(format string, args ...interface{}) { Get(CategoryMonitor).Error(format, args...) }

// =============================================================================
// TIMING HELPERS
// =============================================================================

// Timer helps measure operation duration.
type Timer struct {
	category Category
	op       string
	start    time.Time
}

// StartTimer begins timing an operation.
func StartTimer(category Category, operation string) *Timer {
	return &Timer{category: category, op: operation, start: time.Now()}
}

// Stop ends the timer and logs the duration at debug level.
func (t *Timer) Stop() time.Duration {
	elapsed := time.Since(t.start)
	Get(t.category).Debug("%s completed in %v", t.op, elapsed)
	return elapsed
}

// StopWithInfo ends the timer and logs at info level.
func (t *Timer) StopWithInfo() time.Duration {
	elapsed := time.Since(t.start)
	Get(t.category).Info("%s completed in %v", t.op, elapsed)
	return elapsed
}

// StopWithThreshold logs a warning if duration exceeds threshold.
func (t *Timer) StopWithThreshold(threshold time.Duration) time.Duration {
	elapsed := time.Since(t.start)
	if elapsed > threshold {
		Get(t.category).Warn("%s took %v (threshold: %v)", t.op, elapsed, threshold)
	} else {
		Get(t.category).Debug("%s completed in %v", t.op, elapsed)
	}
	return elapsed
}
