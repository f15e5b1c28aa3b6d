package logger

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"gopkg.in/natefinch/lumberjack.v2"
)

var (
	// Logger 全局日志实例
	Logger *logrus.Logger
	// currentLogFile 当前日志文件路径
	currentLogFile string
	// baseLogFile 基础日志文件路径（配置中的原始路径）
	baseLogFile string
	// savedConfig 保存的日志配置（用于周期切换）
	savedConfig Config
	// currentRound 当前轮次时间戳（轮次起点 unix 秒，0 表示按 RoundDuration 对齐）
	currentRound int64
	// roundTimestamp 外部设置的轮次时间戳（从市场 slug 提取）
	roundTimestamp int64
	// logMu 日志文件切换锁
	logMu sync.Mutex
)

// Config 日志配置
type Config struct {
	Level         string        // 日志级别: debug, info, warn, error
	OutputFile    string        // 日志文件路径（可选，为空则只输出到控制台）
	MaxSize       int           // 日志文件最大大小（MB）
	MaxBackups    int           // 保留的旧日志文件数量
	MaxAge        int           // 保留旧日志文件的天数
	Compress      bool          // 是否压缩旧日志文件
	LogByRound    bool          // 是否按轮次命名日志文件
	RoundDuration time.Duration // 轮次时长（默认15分钟）
}

const defaultRoundDuration = 15 * time.Minute

func newFormatter() *logrus.TextFormatter {
	return &logrus.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: "06-01-02 15:04:05", // 格式: yy-mm-dd HH:MM:ss
		ForceColors:     true,
	}
}

// SetRoundTimestamp 设置当前轮次时间戳（engine 在轮次切换时调用）
// 例如：btc-up-or-down-15m-1765985400 -> 1765985400
func SetRoundTimestamp(timestamp int64) {
	logMu.Lock()
	defer logMu.Unlock()
	roundTimestamp = timestamp
}

// currentRoundStart 计算当前轮次起点：优先使用外部设置的轮次时间戳，
// 否则按 RoundDuration 对齐墙钟
func currentRoundStart(round time.Duration) int64 {
	if roundTimestamp > 0 {
		return roundTimestamp
	}
	if round <= 0 {
		round = defaultRoundDuration
	}
	return time.Now().Truncate(round).Unix()
}

// roundLogFileName 根据轮次起点生成日志文件名
// lagbet_2026-01-12_22-30.log（保留 basePath 的目录和扩展名）
func roundLogFileName(basePath string, round int64) string {
	dir := filepath.Dir(basePath)
	baseName := filepath.Base(basePath)
	ext := filepath.Ext(baseName)
	stem := baseName[:len(baseName)-len(ext)]

	stamp := time.Unix(round, 0).Format("2006-01-02_15-04")
	name := fmt.Sprintf("%s_%s%s", stem, stamp, ext)
	if dir == "." || dir == "" {
		return name
	}
	return filepath.Join(dir, name)
}

// buildOutput 组装 stdout+文件 的 MultiWriter，并返回实际使用的文件路径
func buildOutput(cfg Config, logFilePath string) (io.Writer, error) {
	writers := []io.Writer{os.Stdout}
	if logFilePath != "" {
		if err := os.MkdirAll(filepath.Dir(logFilePath), 0755); err != nil {
			return nil, err
		}
		writers = append(writers, &lumberjack.Logger{
			Filename:   logFilePath,
			MaxSize:    cfg.MaxSize,
			MaxBackups: cfg.MaxBackups,
			MaxAge:     cfg.MaxAge,
			Compress:   cfg.Compress,
		})
	}
	return io.MultiWriter(writers...), nil
}

// install 重建全局 logger：同时重设全局 logrus 输出，
// 保证组件里 logger.WithField() 派生出的 entry 也写入文件
func install(cfg Config, logFilePath string) error {
	out, err := buildOutput(cfg, logFilePath)
	if err != nil {
		return err
	}

	level, err := logrus.ParseLevel(cfg.Level)
	if err != nil {
		level = logrus.InfoLevel
	}

	l := logrus.New()
	l.SetLevel(level)
	l.SetFormatter(newFormatter())
	l.SetOutput(out)

	logrus.SetOutput(out)
	logrus.SetLevel(level)
	logrus.SetFormatter(newFormatter())

	Logger = l
	currentLogFile = logFilePath
	return nil
}

// Init 初始化日志系统
func Init(config Config) error {
	logMu.Lock()
	defer logMu.Unlock()

	logFilePath := ""
	if config.OutputFile != "" {
		baseLogFile = config.OutputFile
		savedConfig = config
		if config.LogByRound {
			if config.RoundDuration <= 0 {
				config.RoundDuration = defaultRoundDuration
				savedConfig.RoundDuration = defaultRoundDuration
			}
			round := currentRoundStart(config.RoundDuration)
			currentRound = round
			logFilePath = roundLogFileName(config.OutputFile, round)
		} else {
			logFilePath = config.OutputFile
		}
	}
	return install(config, logFilePath)
}

// InitDefault 使用默认配置初始化日志系统
func InitDefault() error {
	return Init(Config{
		Level:         "info",
		OutputFile:    "logs/lagbet.log",
		MaxSize:       100, // 100MB
		MaxBackups:    3,
		MaxAge:        7, // 7天
		Compress:      true,
		LogByRound:    true,
		RoundDuration: defaultRoundDuration,
	})
}

// CheckAndRotate 检查并切换日志文件（轮次变化时）
func CheckAndRotate() error {
	logMu.Lock()
	defer logMu.Unlock()

	cfg := savedConfig
	if !cfg.LogByRound || baseLogFile == "" {
		return nil
	}

	round := currentRoundStart(cfg.RoundDuration)
	if round == currentRound {
		return nil
	}

	logFilePath := roundLogFileName(baseLogFile, round)
	if logFilePath == currentLogFile {
		currentRound = round
		return nil
	}

	old := currentLogFile
	currentRound = round
	if err := install(cfg, logFilePath); err != nil {
		return err
	}
	if old != "" {
		Logger.Infof("日志文件已切换到新轮次: %s -> %s", old, logFilePath)
	}
	return nil
}

// StartRotationChecker 启动日志轮次检查器（后台任务）
func StartRotationChecker(config Config) {
	if !config.LogByRound || config.OutputFile == "" {
		return
	}

	go func() {
		ticker := time.NewTicker(1 * time.Minute)
		defer ticker.Stop()

		for range ticker.C {
			if err := CheckAndRotate(); err != nil {
				if Logger != nil {
					Logger.Errorf("检查日志切换失败: %v", err)
				}
			}
		}
	}()
}

// Debug 记录 DEBUG 级别日志
func Debug(args ...interface{}) {
	if Logger != nil {
		Logger.Debug(args...)
	}
}

// Debugf 记录格式化的 DEBUG 级别日志
func Debugf(format string, args ...interface{}) {
	if Logger != nil {
		Logger.Debugf(format, args...)
	}
}

// Info 记录 INFO 级别日志
func Info(args ...interface{}) {
	if Logger != nil {
		Logger.Info(args...)
	}
}

// Infof 记录格式化的 INFO 级别日志
func Infof(format string, args ...interface{}) {
	if Logger != nil {
		Logger.Infof(format, args...)
	}
}

// Warn 记录 WARN 级别日志
func Warn(args ...interface{}) {
	if Logger != nil {
		Logger.Warn(args...)
	}
}

// Warnf 记录格式化的 WARN 级别日志
func Warnf(format string, args ...interface{}) {
	if Logger != nil {
		Logger.Warnf(format, args...)
	}
}

// Error 记录 ERROR 级别日志
func Error(args ...interface{}) {
	if Logger != nil {
		Logger.Error(args...)
	}
}

// Errorf 记录格式化的 ERROR 级别日志
func Errorf(format string, args ...interface{}) {
	if Logger != nil {
		Logger.Errorf(format, args...)
	}
}

// WithField 添加字段到日志上下文
func WithField(key string, value interface{}) *logrus.Entry {
	if Logger != nil {
		return Logger.WithField(key, value)
	}
	return logrus.NewEntry(logrus.New())
}

// WithFields 添加多个字段到日志上下文
func WithFields(fields logrus.Fields) *logrus.Entry {
	if Logger != nil {
		return Logger.WithFields(fields)
	}
	return logrus.NewEntry(logrus.New())
}

// GetCurrentLogFile 获取当前日志文件路径
func GetCurrentLogFile() string {
	logMu.Lock()
	defer logMu.Unlock()
	return currentLogFile
}
