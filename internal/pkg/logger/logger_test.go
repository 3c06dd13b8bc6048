package logger

import (
	"bytes"
	"encoding/json"
	"errors"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	assert.Equal(t, logrus.DebugLevel, ParseLevel("debug"))
	assert.Equal(t, logrus.WarnLevel, ParseLevel(" WARN "))
	assert.Equal(t, logrus.InfoLevel, ParseLevel("chatty"))
}

func TestNewWithOutput_JSON(t *testing.T) {
	var buf bytes.Buffer
	l := NewWithOutput(&buf, "info", "json")
	l.WithField("report_id", 7).Info("stored")

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "stored", entry["msg"])
	assert.Equal(t, float64(7), entry["report_id"])
}

func TestLogError(t *testing.T) {
	l, hook := test.NewNullLogger()
	LogError(l, "ledger", "insert", logrus.Fields{"submitter_id": "10.0.0.1"}, errors.New("disk full"))

	require.Len(t, hook.Entries, 1)
	e := hook.LastEntry()
	assert.Equal(t, logrus.ErrorLevel, e.Level)
	assert.Equal(t, "insert failed", e.Message)
	assert.Equal(t, "ledger", e.Data["component"])
	assert.Equal(t, "10.0.0.1", e.Data["submitter_id"])
	assert.EqualError(t, e.Data[logrus.ErrorKey].(error), "disk full")
}
