// Package logrus adapts a *logrus.Entry to mcroute.Logger.
package logrus

import (
	"github.com/sirupsen/logrus"

	"github.com/unkn0wn-root/mcroute"
)

var _ mcroute.Logger = LogrusLogger{}

type LogrusLogger struct{ E *logrus.Entry }

// New wraps e; a nil e logs through logrus.StandardLogger.
func New(e *logrus.Entry) LogrusLogger {
	if e == nil {
		e = logrus.NewEntry(logrus.StandardLogger())
	}
	return LogrusLogger{E: e}
}

func (l LogrusLogger) Debug(msg string, f mcroute.Fields) { l.with(f).Debug(msg) }
func (l LogrusLogger) Info(msg string, f mcroute.Fields)  { l.with(f).Info(msg) }
func (l LogrusLogger) Warn(msg string, f mcroute.Fields)  { l.with(f).Warn(msg) }
func (l LogrusLogger) Error(msg string, f mcroute.Fields) { l.with(f).Error(msg) }

func (l LogrusLogger) with(f mcroute.Fields) *logrus.Entry {
	if len(f) == 0 {
		return l.E
	}
	fields := make(logrus.Fields, len(f))
	for k, v := range f {
		if k == "err" {
			k = logrus.ErrorKey
		}
		fields[k] = v
	}
	return l.E.WithFields(fields)
}
