package utils

import (
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Logger 全局日志器
var Logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}).
	With().Timestamp().Logger()

// 日志文件名
const (
	MainLogFile  = "tagaudit.log"
	ErrorLogFile = "tagaudit_error.log"
)

// LogConfig 日志配置
type LogConfig struct {
	Level      string // trace, debug, info, warn, error
	LogDir     string
	MaxSize    int // MB
	MaxBackups int
	MaxAge     int // 天
	Compress   bool
	NoColor    bool
}

// DefaultLogConfig 默认日志配置
func DefaultLogConfig() LogConfig {
	return LogConfig{
		Level:      "info",
		LogDir:     "logs",
		MaxSize:    10,
		MaxBackups: 3,
		MaxAge:     28,
		Compress:   true,
	}
}

// InitLogger 初始化日志系统: 彩色控制台 + 主日志文件 + 仅错误级别的错误日志文件
func InitLogger(config LogConfig) error {
	if err := os.MkdirAll(config.LogDir, 0755); err != nil {
		return err
	}

	level, err := zerolog.ParseLevel(config.Level)
	if err != nil || level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	rotate := func(name string) *lumberjack.Logger {
		return &lumberjack.Logger{
			Filename:   filepath.Join(config.LogDir, name),
			MaxSize:    config.MaxSize,
			MaxBackups: config.MaxBackups,
			MaxAge:     config.MaxAge,
			Compress:   config.Compress,
		}
	}

	console := zerolog.ConsoleWriter{
		Out:        os.Stdout,
		TimeFormat: time.RFC3339,
		NoColor:    config.NoColor,
	}

	writer := zerolog.MultiLevelWriter(
		console,
		rotate(MainLogFile),
		&FilteredWriter{Writer: rotate(ErrorLogFile), MinLevel: zerolog.ErrorLevel},
	)

	Logger = zerolog.New(writer).
		With().
		Timestamp().
		Caller().
		Logger()
	log.Logger = Logger

	Logger.Debug().
		Str("level", level.String()).
		Str("log_dir", config.LogDir).
		Msg("日志系统初始化完成")

	return nil
}

// FilteredWriter 仅写入指定级别及以上的日志
type FilteredWriter struct {
	Writer   io.Writer
	MinLevel zerolog.Level
}

// Write 无级别信息的写入直接丢弃
func (w *FilteredWriter) Write(p []byte) (n int, err error) {
	return len(p), nil
}

// WriteLevel 实现 zerolog.LevelWriter
func (w *FilteredWriter) WriteLevel(level zerolog.Level, p []byte) (n int, err error) {
	if level >= w.MinLevel && level != zerolog.NoLevel {
		return w.Writer.Write(p)
	}
	return len(p), nil
}

// Info 信息日志
func Info(msg string) {
	Logger.Info().Msg(msg)
}

// Infof 格式化信息日志
func Infof(format string, args ...interface{}) {
	Logger.Info().Msgf(format, args...)
}

// Error 错误日志
func Error(err error, msg string) {
	Logger.Error().Err(err).Msg(msg)
}

// Errorf 格式化错误日志
func Errorf(format string, args ...interface{}) {
	Logger.Error().Msgf(format, args...)
}

// Warn 警告日志
func Warn(msg string) {
	Logger.Warn().Msg(msg)
}

// Warnf 格式化警告日志
func Warnf(format string, args ...interface{}) {
	Logger.Warn().Msgf(format, args...)
}

// Debug 调试日志
func Debug(msg string) {
	Logger.Debug().Msg(msg)
}

// Debugf 格式化调试日志
func Debugf(format string, args ...interface{}) {
	Logger.Debug().Msgf(format, args...)
}
