// internal/utils/logger.go
package utils

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"strings"
	"sync"
	"time"
)

// LogLevel 日志级别
type LogLevel int

const (
	DEBUG LogLevel = iota
	INFO
	WARNING
	ERROR
)

var levelNames = map[LogLevel]string{
	DEBUG:   "DEBUG",
	INFO:    "INFO",
	WARNING: "WARNING",
	ERROR:   "ERROR",
}

// Logger 结构化日志器：写入文件（配置后）并镜像到标准输出。
// 字段按键排序，保证同一事件的输出逐次稳定。
type Logger struct {
	mu    sync.Mutex
	file  *os.File
	level LogLevel
}

var (
	globalLogger *Logger
	loggerOnce   sync.Once
)

// GetLogger 返回全局日志器。未经InitLogger也可用，只写标准输出。
func GetLogger() *Logger {
	loggerOnce.Do(func() {
		globalLogger = &Logger{level: INFO}
	})
	return globalLogger
}

// InitLogger 绑定日志文件，重复调用会替换旧文件
func InitLogger(logFile string) error {
	if err := os.MkdirAll(filepath.Dir(logFile), 0755); err != nil {
		return fmt.Errorf("创建日志目录失败: %w", err)
	}

	file, err := os.OpenFile(logFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return fmt.Errorf("打开日志文件失败: %w", err)
	}

	logger := GetLogger()
	logger.mu.Lock()
	defer logger.mu.Unlock()
	if logger.file != nil {
		logger.file.Close()
	}
	logger.file = file
	return nil
}

// SetLogLevel 设置最低输出级别
func (l *Logger) SetLogLevel(level LogLevel) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.level = level
}

func (l *Logger) Debug(message string, fields map[string]interface{}) {
	l.write(DEBUG, message, fields)
}

func (l *Logger) Info(message string, fields map[string]interface{}) {
	l.write(INFO, message, fields)
}

func (l *Logger) Warn(message string, fields map[string]interface{}) {
	l.write(WARNING, message, fields)
}

func (l *Logger) Error(message string, fields map[string]interface{}) {
	l.write(ERROR, message, fields)
}

func (l *Logger) write(level LogLevel, message string, fields map[string]interface{}) {
	l.mu.Lock()
	minLevel := l.level
	l.mu.Unlock()
	if level < minLevel {
		return
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "[%s] %s %s - %s",
		levelNames[level],
		time.Now().Format("2006-01-02 15:04:05.000"),
		callSite(),
		message)

	if len(fields) > 0 {
		keys := make([]string, 0, len(fields))
		for key := range fields {
			keys = append(keys, key)
		}
		sort.Strings(keys)
		sb.WriteString(" |")
		for _, key := range keys {
			fmt.Fprintf(&sb, " %s=%v", key, fields[key])
		}
	}
	sb.WriteByte('\n')
	line := sb.String()

	l.mu.Lock()
	defer l.mu.Unlock()
	if l.file != nil {
		l.file.WriteString(line)
	}
	os.Stdout.WriteString(line)
}

// callSite 返回 "文件:行号"，跳过日志器自身的两层栈帧
func callSite() string {
	_, file, lineNo, ok := runtime.Caller(3)
	if !ok {
		return "???"
	}
	return fmt.Sprintf("%s:%d", filepath.Base(file), lineNo)
}
