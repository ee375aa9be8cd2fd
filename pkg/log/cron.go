package log

import "github.com/robfig/cron/v3"

// cronLogger 将 robfig/cron 的 Logger 接口适配到 zap。
type cronLogger struct{}

// CronLogger 返回一个写入全局 zap logger 的 cron.Logger 实现。
// cron 每次调度都会打 Info，这里降为 debug。
func CronLogger() cron.Logger {
	return cronLogger{}
}

func (cronLogger) Info(msg string, keysAndValues ...interface{}) {
	sugar.Debugw(msg, keysAndValues...)
}

func (cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	sugar.Errorw(msg, append(keysAndValues, "error", err)...)
}
