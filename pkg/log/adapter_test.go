package log

import (
	"io"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newCapturingAdapter() (*BadgerLogrusAdapter, *test.Hook) {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	logger.SetLevel(logrus.TraceLevel)
	hook := test.NewLocal(logger)
	return NewBadgerLogrusAdapter(logrus.NewEntry(logger).WithField("component", "badgerdb")), hook
}

func TestBadgerLogrusAdapter_Levels(t *testing.T) {
	tests := []struct {
		name  string
		log   func(a *BadgerLogrusAdapter)
		level logrus.Level
		msg   string
	}{
		{"error", func(a *BadgerLogrusAdapter) { a.Errorf("open %s", "vlog") }, logrus.ErrorLevel, "open vlog"},
		{"warning", func(a *BadgerLogrusAdapter) { a.Warningf("slow %d", 42) }, logrus.WarnLevel, "slow 42"},
		{"info is demoted", func(a *BadgerLogrusAdapter) { a.Infof("compaction %v", true) }, logrus.DebugLevel, "compaction true"},
		{"debug is demoted", func(a *BadgerLogrusAdapter) { a.Debugf("tick") }, logrus.TraceLevel, "tick"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			adapter, hook := newCapturingAdapter()
			tt.log(adapter)

			entry := hook.LastEntry()
			require.NotNil(t, entry)
			assert.Equal(t, tt.level, entry.Level)
			assert.Equal(t, tt.msg, entry.Message)
			assert.Equal(t, "badgerdb", entry.Data["component"])
		})
	}
}
