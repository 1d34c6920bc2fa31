package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	setCoreEnvEmpty(t)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Addr() != "127.0.0.1:7071" {
		t.Fatalf("Addr() = %q, want %q", cfg.Addr(), "127.0.0.1:7071")
	}
	if cfg.Transport != TransportAuto || cfg.TTSEngine != "null" || cfg.ChunkMS != 50 {
		t.Fatalf("unexpected transport defaults: %+v", cfg)
	}
	if cfg.WakeRefractory != 3*time.Second || cfg.RealtimeVoice != "alloy" {
		t.Fatalf("unexpected wake defaults: refractory=%v voice=%q", cfg.WakeRefractory, cfg.RealtimeVoice)
	}
	if cfg.CoreBaseURL != "http://127.0.0.1:8787" {
		t.Fatalf("CoreBaseURL = %q", cfg.CoreBaseURL)
	}
	if !cfg.JournalRedact {
		t.Fatalf("JournalRedact = false, want true by default")
	}
	if cfg.WakeEnabled || cfg.STTPreload {
		t.Fatalf("wake and preload should be opt-in")
	}
}

func TestLoadEnvOverrides(t *testing.T) {
	setCoreEnvEmpty(t)
	t.Setenv("VOICE_PORT", "9090")
	t.Setenv("VOICE_TRANSPORT", "Fallback")
	t.Setenv("VOICE_STT_DEVICE", "cpu")
	t.Setenv("VOICE_WAKE_REFRACTORY", "1500ms")
	t.Setenv("VOICE_CORE_BASE_URL", "http://core.local:9000/")
	t.Setenv("PORCUPINE_ACCESS_KEY_ENV", "MY_PV_KEY")
	t.Setenv("MY_PV_KEY", "secret")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Port != 9090 || cfg.Transport != TransportFallback || cfg.STTDevice != "cpu" {
		t.Fatalf("overrides not applied: %+v", cfg)
	}
	if cfg.WakeRefractory != 1500*time.Millisecond {
		t.Fatalf("WakeRefractory = %v", cfg.WakeRefractory)
	}
	if cfg.CoreBaseURL != "http://core.local:9000" {
		t.Fatalf("CoreBaseURL = %q, want trailing slash trimmed", cfg.CoreBaseURL)
	}
	if cfg.PorcupineAccessKey != "secret" {
		t.Fatalf("PorcupineAccessKey not resolved through PORCUPINE_ACCESS_KEY_ENV")
	}
}

func TestLoadAccessKeyFallsBackToPicovoice(t *testing.T) {
	setCoreEnvEmpty(t)
	t.Setenv("PORCUPINE_ACCESS_KEY_ENV", "UNSET_KEY_VAR")
	t.Setenv("UNSET_KEY_VAR", "")
	t.Setenv("PICOVOICE_ACCESS_KEY", "pv")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.PorcupineAccessKey != "pv" {
		t.Fatalf("PorcupineAccessKey = %q, want pv", cfg.PorcupineAccessKey)
	}
}

func TestLoadYAMLOverlayBelowEnv(t *testing.T) {
	setCoreEnvEmpty(t)
	path := filepath.Join(t.TempDir(), "voiced.yaml")
	body := strings.Join([]string{
		"port: 8181",
		"chunk_ms: 20",
		"wake_enabled: true",
		"wake_refractory: 5s",
		"stt_language: de",
	}, "\n")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}
	t.Setenv("VOICE_CONFIG_FILE", path)
	t.Setenv("VOICE_STT_LANGUAGE", "fr")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Port != 8181 || cfg.ChunkMS != 20 || !cfg.WakeEnabled || cfg.WakeRefractory != 5*time.Second {
		t.Fatalf("file values not applied: %+v", cfg)
	}
	if cfg.STTLanguage != "fr" {
		t.Fatalf("STTLanguage = %q, env should beat file", cfg.STTLanguage)
	}
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	cases := map[string]string{
		"VOICE_PORT":            "70000",
		"VOICE_TRANSPORT":       "quic",
		"VOICE_CHUNK_MS":        "0",
		"VOICE_WAKE_ENGINE":     "magic",
		"VOICE_WAKE_ENABLED":    "perhaps",
		"PORCUPINE_SENSITIVITY": "1.5",
		"APP_SHUTDOWN_TIMEOUT":  "soon",
	}
	for key, value := range cases {
		setCoreEnvEmpty(t)
		t.Setenv(key, value)
		if _, err := Load(); err == nil {
			t.Fatalf("Load() with %s=%q succeeded, want error", key, value)
		}
	}
}

func setCoreEnvEmpty(t *testing.T) {
	t.Helper()
	keys := []string{
		"VOICE_CONFIG_FILE",
		"VOICE_HOST",
		"VOICE_PORT",
		"VOICE_TRANSPORT",
		"VOICE_TTS_ENGINE",
		"VOICE_CHUNK_MS",
		"VOICE_STT_MODEL",
		"VOICE_STT_SERVER",
		"VOICE_STT_DEVICE",
		"VOICE_STT_LANGUAGE",
		"VOICE_STT_PRELOAD",
		"VOICE_STT_THREADS",
		"VOICE_STT_LOAD_TIMEOUT",
		"VOICE_STT_RATE_LIMIT",
		"VOICE_WAKE_ENABLED",
		"VOICE_WAKE_ENGINE",
		"VOICE_WAKE_PHRASE",
		"VOICE_WAKE_REFRACTORY",
		"VOICE_WAKE_CAPTURE_CMD",
		"VOICE_WAKE_COMMAND",
		"PORCUPINE_KEYWORD_PATH",
		"PORCUPINE_KEYWORD_DIR",
		"PORCUPINE_MODEL_PATH",
		"PORCUPINE_SENSITIVITY",
		"PORCUPINE_ACCESS_KEY_ENV",
		"PICOVOICE_ACCESS_KEY",
		"VOICE_CORE_BASE_URL",
		"FOREMAN_REALTIME_VOICE",
		"DATABASE_URL",
		"VOICE_JOURNAL_REDACT",
		"APP_METRICS_NAMESPACE",
		"APP_SHUTDOWN_TIMEOUT",
		"APP_ALLOW_ANY_ORIGIN",
		"APP_LOG_LEVEL",
		"OTEL_EXPORTER_OTLP_ENDPOINT",
		"OTEL_EXPORTER_OTLP_INSECURE",
	}
	for _, key := range keys {
		t.Setenv(key, "")
	}
}
