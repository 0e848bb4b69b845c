package utils

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Logger InitLogger 之前为 nil，测试中可能执行的代码用 L()
var Logger *zap.Logger

func InitLogger(mode string) error {
	var config zap.Config

	if mode == "release" {
		config = zap.NewProductionConfig()
		config.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	} else {
		config = zap.NewDevelopmentConfig()
		config.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	}

	logger, err := config.Build()
	if err != nil {
		return err
	}

	Logger = logger.Named("bgkit")
	return nil
}

// L 返回全局日志，InitLogger 之前返回空实现
func L() *zap.Logger {
	if Logger == nil {
		return zap.NewNop()
	}
	return Logger
}

func Sync() {
	if Logger != nil {
		_ = Logger.Sync()
	}
}
