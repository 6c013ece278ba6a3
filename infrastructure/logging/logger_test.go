package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_LevelAndFormat(t *testing.T) {
	log := New("osaserver", "debug", "json")
	assert.Equal(t, logrus.DebugLevel, log.GetLevel())

	// Unknown levels fall back to info.
	log = New("osaserver", "chatty", "text")
	assert.Equal(t, logrus.InfoLevel, log.GetLevel())
}

func TestWithContext_Fields(t *testing.T) {
	log := New("osaserver", "info", "json")
	var buf bytes.Buffer
	log.SetOutput(&buf)

	ctx := context.WithValue(context.Background(), ConsumerGroupKey, "BeginValidation")
	ctx = context.WithValue(ctx, EventIDKey, "evt-1")
	log.WithContext(ctx).Info("claimed batch")

	var entry map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "osaserver", entry["service"])
	assert.Equal(t, "BeginValidation", entry["consumer_group"])
	assert.Equal(t, "evt-1", entry["event_id"])
	assert.Equal(t, "claimed batch", entry["message"])
}

func TestWithGroupAndComponent(t *testing.T) {
	log := New("osaserver", "info", "json")
	var buf bytes.Buffer
	log.SetOutput(&buf)

	log.WithGroup("InsertRecordFeatures").Info("x")
	var entry map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "InsertRecordFeatures", entry["consumer_group"])

	buf.Reset()
	log.WithComponent("outbox").Info("y")
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "outbox", entry["component"])
}
