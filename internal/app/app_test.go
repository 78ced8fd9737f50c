package app

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"smart-event-relay/internal/config"
	"smart-event-relay/internal/cycle"
	"smart-event-relay/internal/testutil"
)

func testConfig() *config.Config {
	return &config.Config{
		Server: config.ServerConfig{Port: "0"},
		Log:    config.LogConfig{Level: "info", Format: "json"},
		Ingest: config.IngestConfig{
			BatchSize:           10,
			Concurrency:         2,
			MaxAttempts:         3,
			BackoffBase:         time.Millisecond,
			ConfidenceThreshold: 0.7,
			TimeZone:            "UTC",
		},
		Inference: config.InferenceConfig{
			BaseURL: "http://127.0.0.1:11434",
			Model:   "llama3.1:8b",
			Timeout: time.Second,
		},
		Calendar: config.CalendarConfig{
			Timeout:         time.Second,
			BatchSize:       10,
			Concurrency:     2,
			MaxAttempts:     5,
			Lease:           time.Minute,
			ReminderOffsets: []time.Duration{24 * time.Hour, 3 * time.Hour, 30 * time.Minute},
		},
		Push: config.PushConfig{
			Endpoint:    "http://127.0.0.1:1/push",
			Timeout:     time.Second,
			BatchSize:   10,
			Concurrency: 2,
			MaxRetries:  5,
			Lease:       time.Minute,
		},
		Scheduler: config.SchedulerConfig{
			IngestSchedule:   "0 */1 * * * *",
			SyncSchedule:     "30 */5 * * * *",
			DispatchSchedule: "",
		},
	}
}

func TestBuildWiresCycles(t *testing.T) {
	a, err := build(testConfig(), testutil.NewDB(t), prometheus.NewRegistry())
	require.NoError(t, err)

	assert.Equal(t, []string{"ingest", "sync", "dispatch"}, a.Runner.Names())
	assert.Len(t, a.Scheduler.Status(), 2)
	assert.False(t, a.Scheduler.IsRunning())

	summaries, err := a.Runner.Run(context.Background(), cycle.All)
	require.NoError(t, err)
	require.Len(t, summaries, 3)
	for _, s := range summaries {
		assert.Zero(t, s.Processed, s.Cycle)
	}
}

func TestBuildRejectsBadTimezone(t *testing.T) {
	cfg := testConfig()
	cfg.Ingest.TimeZone = "Mars/Olympus"

	_, err := build(cfg, testutil.NewDB(t), prometheus.NewRegistry())
	assert.Error(t, err)
}

func TestConfigureLogging(t *testing.T) {
	defer logrus.SetLevel(logrus.InfoLevel)
	defer logrus.SetFormatter(&logrus.JSONFormatter{})

	require.NoError(t, ConfigureLogging(config.LogConfig{Level: "debug", Format: "text"}))
	assert.Equal(t, logrus.DebugLevel, logrus.GetLevel())
	assert.IsType(t, &logrus.TextFormatter{}, logrus.StandardLogger().Formatter)

	assert.Error(t, ConfigureLogging(config.LogConfig{Level: "loud"}))
	assert.Error(t, ConfigureLogging(config.LogConfig{Level: "info", Format: "xml"}))
}
