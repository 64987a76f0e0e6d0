package logger

import (
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"time"
)

// Logger 分级日志，按天写入文件并同时输出到控制台
type Logger struct {
	infoLogger  *log.Logger
	errorLogger *log.Logger
	debugLogger *log.Logger
	debug       bool
	logDir      string
	retention   time.Duration
	files       []*os.File
	stopCleanup chan struct{}
}

// NewLogger 在 logDir 下创建日志文件
func NewLogger(logDir string, debug bool) (*Logger, error) {
	if err := os.MkdirAll(logDir, 0755); err != nil {
		return nil, fmt.Errorf("创建日志目录失败: %w", err)
	}

	l := &Logger{
		logDir:      logDir,
		debug:       debug,
		retention:   48 * time.Hour,
		stopCleanup: make(chan struct{}),
	}

	if err := l.initLogFiles(); err != nil {
		l.Close()
		return nil, err
	}

	go l.startLogCleanup()

	return l, nil
}

// New 只输出到 w，不落盘。测试和命令行工具使用。
func New(w io.Writer, debug bool) *Logger {
	return &Logger{
		infoLogger:  log.New(w, "[INFO] ", log.LstdFlags),
		errorLogger: log.New(w, "[ERROR] ", log.LstdFlags),
		debugLogger: log.New(w, "[DEBUG] ", log.LstdFlags),
		debug:       debug,
	}
}

// Discard 丢弃所有输出
func Discard() *Logger {
	return New(io.Discard, false)
}

func (l *Logger) initLogFiles() error {
	dateStr := time.Now().Format("2006-01-02")

	open := func(level string) (*os.File, error) {
		path := filepath.Join(l.logDir, fmt.Sprintf("%s_%s.log", level, dateStr))
		f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0666)
		if err != nil {
			return nil, fmt.Errorf("创建%s日志文件失败: %w", level, err)
		}
		l.files = append(l.files, f)
		return f, nil
	}

	infoFile, err := open("info")
	if err != nil {
		return err
	}
	errorFile, err := open("error")
	if err != nil {
		return err
	}
	debugFile, err := open("debug")
	if err != nil {
		return err
	}

	l.infoLogger = log.New(io.MultiWriter(os.Stdout, infoFile), "[INFO] ", log.LstdFlags|log.Lshortfile)
	l.errorLogger = log.New(io.MultiWriter(os.Stderr, errorFile), "[ERROR] ", log.LstdFlags|log.Lshortfile)
	l.debugLogger = log.New(io.MultiWriter(os.Stdout, debugFile), "[DEBUG] ", log.LstdFlags|log.Lshortfile)

	return nil
}

func (l *Logger) Info(format string, v ...interface{}) {
	l.infoLogger.Output(2, fmt.Sprintf(format, v...))
}

func (l *Logger) Error(format string, v ...interface{}) {
	l.errorLogger.Output(2, fmt.Sprintf(format, v...))
}

func (l *Logger) Debug(format string, v ...interface{}) {
	if !l.debug {
		return
	}
	l.debugLogger.Output(2, fmt.Sprintf(format, v...))
}

func (l *Logger) InfoWithContext(context string, format string, v ...interface{}) {
	l.infoLogger.Output(2, fmt.Sprintf("[%s] %s", context, fmt.Sprintf(format, v...)))
}

func (l *Logger) ErrorWithContext(context string, format string, v ...interface{}) {
	l.errorLogger.Output(2, fmt.Sprintf("[%s] %s", context, fmt.Sprintf(format, v...)))
}

func (l *Logger) DebugWithContext(context string, format string, v ...interface{}) {
	if !l.debug {
		return
	}
	l.debugLogger.Output(2, fmt.Sprintf("[%s] %s", context, fmt.Sprintf(format, v...)))
}

// LogGameAction 记录对局相关操作
func (l *Logger) LogGameAction(messageID, playerID, action, details string) {
	l.InfoWithContext("GAME", "消息 %s 玩家 %s 执行: %s - %s", messageID, playerID, action, details)
}

// LogStoreAction 记录共享存储读写
func (l *Logger) LogStoreAction(operation, details string) {
	l.DebugWithContext("STORE", "%s - %s", operation, details)
}

// startLogCleanup 每48小时删除旧日志
func (l *Logger) startLogCleanup() {
	ticker := time.NewTicker(l.retention)
	defer ticker.Stop()

	l.cleanupOldLogs()

	for {
		select {
		case <-ticker.C:
			l.cleanupOldLogs()
		case <-l.stopCleanup:
			return
		}
	}
}

// cleanupOldLogs 删除超过保留期的日志文件
func (l *Logger) cleanupOldLogs() {
	cutoffTime := time.Now().Add(-l.retention)

	files, err := filepath.Glob(filepath.Join(l.logDir, "*.log"))
	if err != nil {
		l.Error("扫描日志文件失败: %v", err)
		return
	}

	deletedCount := 0
	for _, file := range files {
		info, err := os.Stat(file)
		if err != nil {
			continue
		}

		if info.ModTime().Before(cutoffTime) {
			if err := os.Remove(file); err != nil {
				l.Error("删除旧日志文件失败 %s: %v", file, err)
			} else {
				deletedCount++
			}
		}
	}

	if deletedCount > 0 {
		l.Info("日志清理完成，删除了 %d 个旧日志文件", deletedCount)
	}
}

// Close 关闭日志文件
func (l *Logger) Close() error {
	if l.stopCleanup != nil {
		select {
		case <-l.stopCleanup:
		default:
			close(l.stopCleanup)
		}
	}

	var errs []error
	for _, f := range l.files {
		if err := f.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	l.files = nil

	if len(errs) > 0 {
		return fmt.Errorf("关闭日志文件时发生错误: %v", errs)
	}
	return nil
}
