package telemetry

import (
	"context"
	"log/slog"
	"testing"
)

func TestNewLoggerLevelParsing(t *testing.T) {
	cases := []struct {
		level string
		want  slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"warn", slog.LevelWarn},
		{"warning", slog.LevelWarn},
		{"error", slog.LevelError},
		{"info", slog.LevelInfo},
		{"", slog.LevelInfo},
		{"garbage", slog.LevelInfo},
	}
	for _, tc := range cases {
		log := NewLogger("json", tc.level)
		if got := log.Enabled(context.Background(), tc.want); !got {
			t.Errorf("NewLogger(%q) did not enable its own configured level %v", tc.level, tc.want)
		}
		if tc.want > slog.LevelDebug {
			if log.Enabled(context.Background(), tc.want-1) {
				t.Errorf("NewLogger(%q) unexpectedly enabled a level below %v", tc.level, tc.want)
			}
		}
	}
}

func TestNewMetricsRegistryRegistersDefaults(t *testing.T) {
	reg := NewMetricsRegistry()
	mfs, err := reg.Gather()
	if err != nil {
		t.Fatalf("Gather() error = %v", err)
	}
	if len(mfs) == 0 {
		t.Error("expected the default Go/process collectors to produce metric families")
	}
}
