package config

import (
	"os"
	"testing"
)

func TestLoadConfigDefaults(t *testing.T) {
	for _, key := range []string{"LOCAL_MODE", "UMBILICAL_ADDR", "LISTENER_THREAD_COUNT", "INLINE_EXECUTOR_MAX_TASKS", "SECURITY_AUTHORIZATION", "UMBILICAL_JWT_SECRET"} {
		os.Unsetenv(key)
	}

	cfg := LoadConfig()
	if cfg.LocalMode {
		t.Error("expected LocalMode to default to false")
	}
	if cfg.ListenerThreadCount != 4 {
		t.Errorf("expected default ListenerThreadCount 4, got %d", cfg.ListenerThreadCount)
	}
	if cfg.InlineExecutorMaxTasks != 4 {
		t.Errorf("expected default InlineExecutorMaxTasks 4, got %d", cfg.InlineExecutorMaxTasks)
	}
	if cfg.SecurityAuthorization {
		t.Error("expected SecurityAuthorization to default to false")
	}
}

func TestLoadConfigClampsInvalidThreadCount(t *testing.T) {
	os.Setenv("LISTENER_THREAD_COUNT", "0")
	defer os.Unsetenv("LISTENER_THREAD_COUNT")

	cfg := LoadConfig()
	if cfg.ListenerThreadCount != 1 {
		t.Errorf("expected clamped ListenerThreadCount 1, got %d", cfg.ListenerThreadCount)
	}
}

func TestLoadConfigHonorsEnvOverrides(t *testing.T) {
	os.Setenv("LOCAL_MODE", "true")
	os.Setenv("UMBILICAL_ADDR", "0.0.0.0:9999")
	defer os.Unsetenv("LOCAL_MODE")
	defer os.Unsetenv("UMBILICAL_ADDR")

	cfg := LoadConfig()
	if !cfg.LocalMode {
		t.Error("expected LocalMode true")
	}
	if cfg.UmbilicalAddr != "0.0.0.0:9999" {
		t.Errorf("expected overridden UmbilicalAddr, got %s", cfg.UmbilicalAddr)
	}
}
