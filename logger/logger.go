package logger

import (
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

var (
	globalLogger *zap.Logger
	once         sync.Once
)

// Field 日志字段
type Field = zap.Field

// LogLevel 定义日志级别
type LogLevel string

const (
	DebugLevel LogLevel = "debug"
	InfoLevel  LogLevel = "info"
	WarnLevel  LogLevel = "warn"
	ErrorLevel LogLevel = "error"
)

// Config 定义日志配置
type Config struct {
	Level      LogLevel
	OutputPath string // 为空时只输出到控制台
	MaxSize    int    // MB
	MaxBackups int
	MaxAge     int // 天
	Compress   bool
}

// ParseLevel 把配置中的字符串转换为日志级别，未知值按 info 处理
func ParseLevel(s string) LogLevel {
	switch LogLevel(strings.ToLower(strings.TrimSpace(s))) {
	case DebugLevel:
		return DebugLevel
	case WarnLevel:
		return WarnLevel
	case ErrorLevel:
		return ErrorLevel
	default:
		return InfoLevel
	}
}

func (l LogLevel) zapLevel() zapcore.Level {
	switch l {
	case DebugLevel:
		return zapcore.DebugLevel
	case WarnLevel:
		return zapcore.WarnLevel
	case ErrorLevel:
		return zapcore.ErrorLevel
	default:
		return zapcore.InfoLevel
	}
}

func encoderConfig() zapcore.EncoderConfig {
	return zapcore.EncoderConfig{
		TimeKey:        "timestamp",
		LevelKey:       "level",
		NameKey:        "logger",
		CallerKey:      "caller",
		MessageKey:     "msg",
		StacktraceKey:  "stacktrace",
		LineEnding:     zapcore.DefaultLineEnding,
		EncodeLevel:    zapcore.LowercaseLevelEncoder,
		EncodeTime:     zapcore.RFC3339TimeEncoder,
		EncodeDuration: zapcore.StringDurationEncoder,
		EncodeCaller:   zapcore.ShortCallerEncoder,
	}
}

// newCore 组装控制台输出和（可选的）滚动文件输出
func newCore(config Config) (zapcore.Core, error) {
	level := config.Level.zapLevel()
	consoleCore := zapcore.NewCore(
		zapcore.NewJSONEncoder(encoderConfig()),
		zapcore.AddSync(os.Stdout),
		level,
	)
	if config.OutputPath == "" {
		return consoleCore, nil
	}

	if err := os.MkdirAll(filepath.Dir(config.OutputPath), 0755); err != nil {
		return nil, err
	}

	// 使用 lumberjack 进行日志轮转
	fileWriter := zapcore.AddSync(&lumberjack.Logger{
		Filename:   config.OutputPath,
		MaxSize:    config.MaxSize,
		MaxBackups: config.MaxBackups,
		MaxAge:     config.MaxAge,
		Compress:   config.Compress,
	})
	fileCore := zapcore.NewCore(zapcore.NewJSONEncoder(encoderConfig()), fileWriter, level)
	return zapcore.NewTee(consoleCore, fileCore), nil
}

// InitLogger 初始化日志系统，重复调用只有第一次生效
func InitLogger(config Config) error {
	var initErr error
	once.Do(func() {
		core, err := newCore(config)
		if err != nil {
			initErr = err
			return
		}
		globalLogger = zap.New(core,
			zap.AddCaller(),
			zap.AddCallerSkip(1), // 跳过本包的包装函数
			zap.AddStacktrace(zapcore.ErrorLevel),
		)
	})
	return initErr
}

// Sync 刷新缓冲区，进程退出前调用
func Sync() {
	if globalLogger != nil {
		_ = globalLogger.Sync()
	}
}

// Named 返回带名字的子 logger；未初始化时返回 Nop logger
func Named(name string) *zap.Logger {
	if globalLogger == nil {
		return zap.NewNop()
	}
	return globalLogger.Named(name).WithOptions(zap.AddCallerSkip(-1))
}

// Debug 输出调试级别日志
func Debug(msg string, fields ...zap.Field) {
	if globalLogger != nil {
		globalLogger.Debug(msg, fields...)
	}
}

// Info 输出信息级别日志
func Info(msg string, fields ...zap.Field) {
	if globalLogger != nil {
		globalLogger.Info(msg, fields...)
	}
}

// Warn 输出警告级别日志
func Warn(msg string, fields ...zap.Field) {
	if globalLogger != nil {
		globalLogger.Warn(msg, fields...)
	}
}

// Error 输出错误级别日志
func Error(msg string, fields ...zap.Field) {
	if globalLogger != nil {
		globalLogger.Error(msg, fields...)
	}
}

// Fatal 输出致命错误级别日志并退出程序
func Fatal(msg string, fields ...zap.Field) {
	if globalLogger != nil {
		globalLogger.Fatal(msg, fields...)
	}
	os.Exit(1)
}

// 辅助函数，用于创建字段
func String(key string, val string) zap.Field {
	return zap.String(key, val)
}

func Strings(key string, val []string) zap.Field {
	return zap.Strings(key, val)
}

func Int(key string, val int) zap.Field {
	return zap.Int(key, val)
}

func Int64(key string, val int64) zap.Field {
	return zap.Int64(key, val)
}

func Float64(key string, val float64) zap.Field {
	return zap.Float64(key, val)
}

func Bool(key string, val bool) zap.Field {
	return zap.Bool(key, val)
}

// ErrorField 创建错误字段
func ErrorField(err error) zap.Field {
	return zap.Error(err)
}

func Any(key string, val interface{}) zap.Field {
	return zap.Any(key, val)
}

// Duration 创建持续时间字段
func Duration(key string, val time.Duration) zap.Field {
	return zap.Duration(key, val)
}
