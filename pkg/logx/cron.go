package logx

import "fmt"

// CronLogger adapts Logger to the logger interface of github.com/robfig/cron/v3.
// Cron's chatty info lines (schedule, wake, run) are demoted to debug.
type CronLogger struct{ L Logger }

func (c CronLogger) Info(msg string, keysAndValues ...any) {
	c.L.Debug("cron: "+msg, kv(keysAndValues)...)
}

func (c CronLogger) Error(err error, msg string, keysAndValues ...any) {
	c.L.Error("cron: "+msg, append(kv(keysAndValues), Err(err))...)
}

func kv(keysAndValues []any) []Field {
	out := make([]Field, 0, len(keysAndValues)/2+1)
	for i := 0; i < len(keysAndValues); i += 2 {
		k := fmt.Sprint(keysAndValues[i])
		if i+1 >= len(keysAndValues) {
			out = append(out, String(k, "(missing)"))
			break
		}
		out = append(out, Any(k, keysAndValues[i+1]))
	}
	return out
}
