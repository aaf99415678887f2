package storage

import (
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// LogLevel 定义日志级别类型
type LogLevel int

// 日志级别常量定义
const (
	DEBUG   LogLevel = iota // 调试信息
	INFO                    // 普通信息
	WARNING                 // 警告信息
	ERROR                   // 错误信息
	FATAL                   // 致命错误，只记录不退出
)

// Logger 日志记录器
// 控制台输出人类可读格式，文件输出 JSON；每条日志同时推送给订阅者
type Logger struct {
	filename    string
	file        *os.File
	console     io.Writer
	level       zap.AtomicLevel
	runID       string
	zl          *zap.Logger
	mu          sync.Mutex
	subscribers []chan string
}

// Option 定制 Logger
type Option func(*Logger)

// WithConsole 替换控制台输出，传 nil 关闭控制台输出
func WithConsole(w io.Writer) Option {
	return func(l *Logger) { l.console = w }
}

// WithLevel 设置最低记录级别
func WithLevel(level LogLevel) Option {
	return func(l *Logger) { l.level.SetLevel(level.zapLevel()) }
}

// NewLogger 创建新的日志记录器
// 参数:
//
//	filename: 日志文件路径
//
// 返回值:
//
//	*Logger: 日志记录器实例
//	error: 创建过程中的错误
func NewLogger(filename string, opts ...Option) (*Logger, error) {
	l := &Logger{
		filename: filename,
		console:  os.Stderr,
		level:    zap.NewAtomicLevelAt(zapcore.InfoLevel),
		runID:    uuid.NewString(),
	}
	for _, opt := range opts {
		opt(l)
	}

	file, err := openLogFile(filename)
	if err != nil {
		return nil, err
	}
	l.file = file
	l.zl = l.build()
	return l, nil
}

func openLogFile(filename string) (*os.File, error) {
	file, err := os.OpenFile(filename, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return nil, fmt.Errorf("open log file %s: %w", filename, err)
	}
	return file, nil
}

// build 根据当前文件句柄重建 zap logger，调用方需持有锁或处于构造阶段
func (l *Logger) build() *zap.Logger {
	fileEnc := zap.NewProductionEncoderConfig()
	fileEnc.EncodeTime = zapcore.ISO8601TimeEncoder

	cores := []zapcore.Core{
		zapcore.NewCore(zapcore.NewJSONEncoder(fileEnc), zapcore.AddSync(l.file), l.level),
	}
	if l.console != nil {
		consoleEnc := zap.NewDevelopmentEncoderConfig()
		consoleEnc.EncodeTime = zapcore.TimeEncoderOfLayout("2006-01-02 15:04:05")
		cores = append(cores, zapcore.NewCore(
			zapcore.NewConsoleEncoder(consoleEnc),
			zapcore.Lock(zapcore.AddSync(l.console)),
			l.level,
		))
	}

	return zap.New(
		zapcore.NewTee(cores...),
		zap.Hooks(l.publish),
		zap.WithFatalHook(recordOnly{}),
	).With(zap.String("run_id", l.runID))
}

// recordOnly 让 FATAL 级别只写日志，进程的退出由调用方决定
type recordOnly struct{}

func (recordOnly) OnWrite(*zapcore.CheckedEntry, []zapcore.Field) {}

// publish 通知所有订阅者，通道已满则丢弃
func (l *Logger) publish(e zapcore.Entry) error {
	entry := fmt.Sprintf("[%s] %s: %s\n",
		e.Time.Format("2006-01-02 15:04:05"),
		fromZapLevel(e.Level).String(),
		e.Message)

	l.mu.Lock()
	defer l.mu.Unlock()
	for _, ch := range l.subscribers {
		select {
		case ch <- entry:
		default:
		}
	}
	return nil
}

// RunID 本次运行的标识，写在每条文件日志里
func (l *Logger) RunID() string { return l.runID }

// Zap 返回底层 zap logger，需要结构化字段时使用
func (l *Logger) Zap() *zap.Logger {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.zl
}

// Close 刷新并关闭日志文件，同时关闭所有订阅通道
func (l *Logger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	_ = l.zl.Sync()
	for _, ch := range l.subscribers {
		close(ch)
	}
	l.subscribers = nil

	if l.file != nil {
		err := l.file.Close()
		l.file = nil
		return err
	}
	return nil
}

// Reopen 重新打开日志文件，配合 logrotate 之类的外部切割
// 参数：
// filename：新文件的路径，为空时沿用原路径
func (l *Logger) Reopen(filename string) error {
	if filename == "" {
		filename = l.filename
	}
	file, err := openLogFile(filename)
	if err != nil {
		return err
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if l.file != nil {
		_ = l.zl.Sync()
		_ = l.file.Close()
	}
	l.file = file
	l.filename = filename
	l.zl = l.build()
	return nil
}

// Log 记录日志方法
// 参数:
//
//	level: 日志级别
//	message: 日志消息内容
func (l *Logger) Log(level LogLevel, message string, fields ...zap.Field) {
	zl := l.Zap()
	if ce := zl.Check(level.zapLevel(), message); ce != nil {
		ce.Write(fields...)
	}
}

// CheckRotate 文件超过 maxSize 时按时间戳改名并新建文件
// maxSize 支持 "10 * 1024 * 1024" 这种写法
func (l *Logger) CheckRotate(maxSize string) error {
	l.mu.Lock()
	file := l.file
	l.mu.Unlock()
	if file == nil {
		return nil
	}

	info, err := file.Stat()
	if err != nil {
		return fmt.Errorf("stat log file: %w", err)
	}

	limit, err := eval(maxSize)
	if err != nil {
		return err
	}
	if limit <= 0 || info.Size() <= limit {
		return nil
	}
	return l.rotateLog()
}

func (l *Logger) rotateLog() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	_ = l.zl.Sync()
	if l.file != nil {
		_ = l.file.Close()
	}

	ext := ""
	base := l.filename
	if i := strings.LastIndex(base, "."); i > 0 {
		base, ext = l.filename[:i], l.filename[i:]
	}
	rotated := fmt.Sprintf("%s.%s%s", base, time.Now().Format("20060102150405"), ext)
	if err := os.Rename(l.filename, rotated); err != nil {
		return fmt.Errorf("rotate log file: %w", err)
	}

	file, err := openLogFile(l.filename)
	if err != nil {
		return err
	}
	l.file = file
	l.zl = l.build()
	return nil
}

// Subscribe 订阅日志消息
// 返回值:
//
//	<-chan string: 只读通道，用于接收日志消息
func (l *Logger) Subscribe() <-chan string {
	l.mu.Lock()
	defer l.mu.Unlock()

	ch := make(chan string, 100)
	l.subscribers = append(l.subscribers, ch)
	return ch
}

// String 实现LogLevel的String方法
func (l LogLevel) String() string {
	switch l {
	case DEBUG:
		return "DEBUG"
	case INFO:
		return "INFO"
	case WARNING:
		return "WARNING"
	case ERROR:
		return "ERROR"
	case FATAL:
		return "FATAL"
	default:
		return "UNKNOWN"
	}
}

func (l LogLevel) zapLevel() zapcore.Level {
	switch l {
	case DEBUG:
		return zapcore.DebugLevel
	case WARNING:
		return zapcore.WarnLevel
	case ERROR:
		return zapcore.ErrorLevel
	case FATAL:
		return zapcore.FatalLevel
	default:
		return zapcore.InfoLevel
	}
}

func fromZapLevel(level zapcore.Level) LogLevel {
	switch level {
	case zapcore.DebugLevel:
		return DEBUG
	case zapcore.InfoLevel:
		return INFO
	case zapcore.WarnLevel:
		return WARNING
	case zapcore.ErrorLevel:
		return ERROR
	default:
		return FATAL
	}
}

// eval 计算 "a * b * c" 形式的乘积
func eval(expr string) (int64, error) {
	var result int64 = 1
	for _, part := range strings.Split(expr, "*") {
		num, err := strconv.ParseInt(strings.TrimSpace(part), 10, 64)
		if err != nil {
			return 0, fmt.Errorf("invalid size expression %q: %w", expr, err)
		}
		result *= num
	}
	return result, nil
}

// 以下是快捷日志方法
func (l *Logger) Debug(msg string)   { l.Log(DEBUG, msg) }   // 记录调试信息
func (l *Logger) Info(msg string)    { l.Log(INFO, msg) }    // 记录普通信息
func (l *Logger) Warning(msg string) { l.Log(WARNING, msg) } // 记录警告信息
func (l *Logger) Error(msg string)   { l.Log(ERROR, msg) }   // 记录错误信息
func (l *Logger) Fatal(msg string)   { l.Log(FATAL, msg) }   // 记录致命错误
