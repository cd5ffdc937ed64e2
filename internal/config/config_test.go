package config

import (
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.QuotaVMLiveMax != 3 {
		t.Errorf("QuotaVMLiveMax = %d, want 3", cfg.QuotaVMLiveMax)
	}
	if cfg.QuotaVMAsyncMax != 1 {
		t.Errorf("QuotaVMAsyncMax = %d, want 1", cfg.QuotaVMAsyncMax)
	}
	if cfg.WorkerHeatPollInterval != 5*time.Second {
		t.Errorf("WorkerHeatPollInterval = %v, want 5s", cfg.WorkerHeatPollInterval)
	}
	if cfg.RetryDelayMin != time.Second {
		t.Errorf("RetryDelayMin = %v, want 1s", cfg.RetryDelayMin)
	}
	if cfg.RetryDelayMax != 30*time.Second {
		t.Errorf("RetryDelayMax = %v, want 30s", cfg.RetryDelayMax)
	}
	if cfg.RetryFailTimeout != 86400*time.Second {
		t.Errorf("RetryFailTimeout = %v, want 86400s", cfg.RetryFailTimeout)
	}
	if cfg.ComposeProjDir != "compose" {
		t.Errorf("ComposeProjDir = %q, want %q", cfg.ComposeProjDir, "compose")
	}
}

func TestListenAddr(t *testing.T) {
	cfg := &Config{ServerListenAddress: "127.0.0.1", ServerPort: 9999}
	if got, want := cfg.ListenAddr(), "127.0.0.1:9999"; got != want {
		t.Errorf("ListenAddr() = %q, want %q", got, want)
	}
}

func TestAMQPURL(t *testing.T) {
	cfg := &Config{
		AMQPUsername: "u",
		AMQPPassword: "p",
		AMQPHostname: "broker",
		AMQPPort:     5672,
		AMQPVHost:    "/",
	}
	if got, want := cfg.AMQPURL(), "amqp://u:p@broker:5672/"; got != want {
		t.Errorf("AMQPURL() = %q, want %q", got, want)
	}
}
