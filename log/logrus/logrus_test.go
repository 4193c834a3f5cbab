package logrus

import (
	"errors"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"

	"github.com/unkn0wn-root/mcroute"
)

func TestLogrusLogger(t *testing.T) {
	base, hook := test.NewNullLogger()
	base.SetLevel(logrus.DebugLevel)
	l := New(logrus.NewEntry(base).WithField("component", "router"))

	boom := errors.New("boom")
	l.Warn("periodic task failed", mcroute.Fields{"err": boom, "gen": 2})
	l.Debug("plain", nil)

	entries := hook.AllEntries()
	if len(entries) != 2 {
		t.Fatalf("got %d entries", len(entries))
	}
	e := entries[0]
	if e.Level != logrus.WarnLevel || e.Message != "periodic task failed" {
		t.Fatalf("entry=%+v", e)
	}
	if e.Data[logrus.ErrorKey] != boom || e.Data["gen"] != 2 || e.Data["component"] != "router" {
		t.Fatalf("data=%v", e.Data)
	}
	if hook.LastEntry().Level != logrus.DebugLevel {
		t.Fatalf("last=%+v", hook.LastEntry())
	}
}
