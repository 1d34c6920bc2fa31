package config

import (
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config contains all runtime settings for the voice daemon.
// Precedence is environment, then the optional YAML file named by VOICE_CONFIG_FILE, then defaults.
type Config struct {
	Host      string `yaml:"host"`
	Port      int    `yaml:"port"`
	Transport string `yaml:"transport"`

	ShutdownTimeout  time.Duration `yaml:"shutdown_timeout"`
	MetricsNamespace string        `yaml:"metrics_namespace"`
	AllowAnyOrigin   bool          `yaml:"allow_any_origin"`
	LogLevel         string        `yaml:"log_level"`
	OTLPEndpoint     string        `yaml:"otlp_endpoint"`
	OTLPInsecure     bool          `yaml:"otlp_insecure"`
	DatabaseURL      string        `yaml:"database_url"`
	JournalRedact    bool          `yaml:"journal_redact"`

	TTSEngine string `yaml:"tts_engine"`
	ChunkMS   int    `yaml:"chunk_ms"`

	STTModel       string        `yaml:"stt_model"`
	STTServer      string        `yaml:"stt_server"`
	STTDevice      string        `yaml:"stt_device"`
	STTLanguage    string        `yaml:"stt_language"`
	STTPreload     bool          `yaml:"stt_preload"`
	STTThreads     int           `yaml:"stt_threads"`
	STTLoadTimeout time.Duration `yaml:"stt_load_timeout"`
	// STTRateLimit is transcription requests per minute per client; 0 disables limiting.
	STTRateLimit int `yaml:"stt_rate_limit"`

	WakeEnabled    bool          `yaml:"wake_enabled"`
	WakeEngine     string        `yaml:"wake_engine"`
	WakePhrase     string        `yaml:"wake_phrase"`
	WakeRefractory time.Duration `yaml:"wake_refractory"`
	WakeCaptureCmd string        `yaml:"wake_capture_cmd"`
	WakeCommand    string        `yaml:"wake_command"`

	PorcupineKeywordPath  string  `yaml:"porcupine_keyword_path"`
	PorcupineKeywordDir   string  `yaml:"porcupine_keyword_dir"`
	PorcupineModelPath    string  `yaml:"porcupine_model_path"`
	PorcupineSensitivity  float64 `yaml:"porcupine_sensitivity"`
	PorcupineAccessKeyEnv string  `yaml:"porcupine_access_key_env"`
	// PorcupineAccessKey is resolved from the variable named by PorcupineAccessKeyEnv. Never read from file.
	PorcupineAccessKey string `yaml:"-"`

	CoreBaseURL   string `yaml:"core_base_url"`
	RealtimeVoice string `yaml:"realtime_voice"`
}

const (
	TransportAuto       = "auto"
	TransportConcurrent = "concurrent"
	TransportFallback   = "fallback"

	WakeEnginePhrase = "phrase"
	WakeEngineExec   = "exec"

	DefaultCaptureCmd = "arecord -q -t raw -f S16_LE -c 1 -r {rate}"
)

func defaults() Config {
	return Config{
		Host:                  "127.0.0.1",
		Port:                  7071,
		Transport:             TransportAuto,
		ShutdownTimeout:       15 * time.Second,
		MetricsNamespace:      "voiced",
		LogLevel:              "info",
		OTLPInsecure:          true,
		JournalRedact:         true,
		TTSEngine:             "null",
		ChunkMS:               50,
		STTModel:              ".models/whisper/ggml-base.en.bin",
		STTServer:             "whisper-server",
		STTLanguage:           "en",
		STTLoadTimeout:        2 * time.Minute,
		WakeEngine:            WakeEnginePhrase,
		WakePhrase:            "hey vim",
		WakeRefractory:        3 * time.Second,
		WakeCaptureCmd:        DefaultCaptureCmd,
		PorcupineSensitivity:  0.5,
		PorcupineAccessKeyEnv: "PICOVOICE_ACCESS_KEY",
		CoreBaseURL:           "http://127.0.0.1:8787",
		RealtimeVoice:         "alloy",
	}
}

// Load reads the optional config file and environment variables and validates the result.
func Load() (Config, error) {
	cfg := defaults()
	if path := stringsTrimSpace("VOICE_CONFIG_FILE"); path != "" {
		if err := overlayFile(&cfg, path); err != nil {
			return Config{}, err
		}
	}

	cfg.Host = envOrDefault("VOICE_HOST", cfg.Host)
	cfg.Transport = strings.ToLower(envOrDefault("VOICE_TRANSPORT", cfg.Transport))
	cfg.MetricsNamespace = envOrDefault("APP_METRICS_NAMESPACE", cfg.MetricsNamespace)
	cfg.LogLevel = envOrDefault("APP_LOG_LEVEL", cfg.LogLevel)
	cfg.OTLPEndpoint = envOrDefault("OTEL_EXPORTER_OTLP_ENDPOINT", cfg.OTLPEndpoint)
	cfg.DatabaseURL = envOrDefault("DATABASE_URL", cfg.DatabaseURL)
	cfg.TTSEngine = envOrDefault("VOICE_TTS_ENGINE", cfg.TTSEngine)
	cfg.STTModel = envOrDefault("VOICE_STT_MODEL", cfg.STTModel)
	cfg.STTServer = envOrDefault("VOICE_STT_SERVER", cfg.STTServer)
	cfg.STTDevice = envOrDefault("VOICE_STT_DEVICE", cfg.STTDevice)
	cfg.STTLanguage = envOrDefault("VOICE_STT_LANGUAGE", cfg.STTLanguage)
	cfg.WakeEngine = strings.ToLower(envOrDefault("VOICE_WAKE_ENGINE", cfg.WakeEngine))
	cfg.WakePhrase = envOrDefault("VOICE_WAKE_PHRASE", cfg.WakePhrase)
	cfg.WakeCaptureCmd = envOrDefault("VOICE_WAKE_CAPTURE_CMD", cfg.WakeCaptureCmd)
	cfg.WakeCommand = envOrDefault("VOICE_WAKE_COMMAND", cfg.WakeCommand)
	cfg.PorcupineKeywordPath = envOrDefault("PORCUPINE_KEYWORD_PATH", cfg.PorcupineKeywordPath)
	cfg.PorcupineKeywordDir = envOrDefault("PORCUPINE_KEYWORD_DIR", cfg.PorcupineKeywordDir)
	cfg.PorcupineModelPath = envOrDefault("PORCUPINE_MODEL_PATH", cfg.PorcupineModelPath)
	cfg.PorcupineAccessKeyEnv = envOrDefault("PORCUPINE_ACCESS_KEY_ENV", cfg.PorcupineAccessKeyEnv)
	cfg.CoreBaseURL = strings.TrimRight(envOrDefault("VOICE_CORE_BASE_URL", cfg.CoreBaseURL), "/")
	cfg.RealtimeVoice = envOrDefault("FOREMAN_REALTIME_VOICE", cfg.RealtimeVoice)

	cfg.PorcupineAccessKey = stringsTrimSpace(cfg.PorcupineAccessKeyEnv)
	if cfg.PorcupineAccessKey == "" {
		cfg.PorcupineAccessKey = stringsTrimSpace("PICOVOICE_ACCESS_KEY")
	}

	var err error
	if cfg.Port, err = intFromEnv("VOICE_PORT", cfg.Port); err != nil {
		return Config{}, err
	}
	if cfg.ChunkMS, err = intFromEnv("VOICE_CHUNK_MS", cfg.ChunkMS); err != nil {
		return Config{}, err
	}
	if cfg.STTThreads, err = intFromEnv("VOICE_STT_THREADS", cfg.STTThreads); err != nil {
		return Config{}, err
	}
	if cfg.STTRateLimit, err = intFromEnv("VOICE_STT_RATE_LIMIT", cfg.STTRateLimit); err != nil {
		return Config{}, err
	}
	if cfg.STTPreload, err = boolFromEnv("VOICE_STT_PRELOAD", cfg.STTPreload); err != nil {
		return Config{}, err
	}
	if cfg.WakeEnabled, err = boolFromEnv("VOICE_WAKE_ENABLED", cfg.WakeEnabled); err != nil {
		return Config{}, err
	}
	if cfg.AllowAnyOrigin, err = boolFromEnv("APP_ALLOW_ANY_ORIGIN", cfg.AllowAnyOrigin); err != nil {
		return Config{}, err
	}
	if cfg.JournalRedact, err = boolFromEnv("VOICE_JOURNAL_REDACT", cfg.JournalRedact); err != nil {
		return Config{}, err
	}
	if cfg.OTLPInsecure, err = boolFromEnv("OTEL_EXPORTER_OTLP_INSECURE", cfg.OTLPInsecure); err != nil {
		return Config{}, err
	}
	if cfg.ShutdownTimeout, err = durationFromEnv("APP_SHUTDOWN_TIMEOUT", cfg.ShutdownTimeout); err != nil {
		return Config{}, err
	}
	if cfg.STTLoadTimeout, err = durationFromEnv("VOICE_STT_LOAD_TIMEOUT", cfg.STTLoadTimeout); err != nil {
		return Config{}, err
	}
	if cfg.WakeRefractory, err = durationFromEnv("VOICE_WAKE_REFRACTORY", cfg.WakeRefractory); err != nil {
		return Config{}, err
	}
	if cfg.PorcupineSensitivity, err = floatFromEnv("PORCUPINE_SENSITIVITY", cfg.PorcupineSensitivity); err != nil {
		return Config{}, err
	}

	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Addr is the listen address for the selected transport.
func (c Config) Addr() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

func (c Config) validate() error {
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("VOICE_PORT must be in 1..65535, got %d", c.Port)
	}
	switch c.Transport {
	case TransportAuto, TransportConcurrent, TransportFallback:
	default:
		return fmt.Errorf("VOICE_TRANSPORT must be auto, concurrent or fallback, got %q", c.Transport)
	}
	if c.ChunkMS <= 0 {
		return fmt.Errorf("VOICE_CHUNK_MS must be positive")
	}
	if c.STTThreads < 0 {
		return fmt.Errorf("VOICE_STT_THREADS must be >= 0")
	}
	if c.STTRateLimit < 0 {
		return fmt.Errorf("VOICE_STT_RATE_LIMIT must be >= 0")
	}
	if c.STTLoadTimeout <= 0 {
		return fmt.Errorf("VOICE_STT_LOAD_TIMEOUT must be positive")
	}
	if c.WakeRefractory < 0 {
		return fmt.Errorf("VOICE_WAKE_REFRACTORY must be >= 0")
	}
	switch c.WakeEngine {
	case WakeEnginePhrase, WakeEngineExec:
	default:
		return fmt.Errorf("VOICE_WAKE_ENGINE must be phrase or exec, got %q", c.WakeEngine)
	}
	if c.PorcupineSensitivity < 0 || c.PorcupineSensitivity > 1 {
		return fmt.Errorf("PORCUPINE_SENSITIVITY must be in [0, 1]")
	}
	return nil
}

func overlayFile(cfg *Config, path string) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}
	if err := yaml.Unmarshal(raw, cfg); err != nil {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}
	return nil
}

func envOrDefault(key, fallback string) string {
	v := stringsTrimSpace(key)
	if v == "" {
		return fallback
	}
	return v
}

func stringsTrimSpace(key string) string {
	return strings.TrimSpace(os.Getenv(key))
}

func durationFromEnv(key string, fallback time.Duration) (time.Duration, error) {
	v := stringsTrimSpace(key)
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return d, nil
}

func intFromEnv(key string, fallback int) (int, error) {
	v := stringsTrimSpace(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return n, nil
}

func floatFromEnv(key string, fallback float64) (float64, error) {
	v := stringsTrimSpace(key)
	if v == "" {
		return fallback, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return f, nil
}

func boolFromEnv(key string, fallback bool) (bool, error) {
	v := strings.ToLower(stringsTrimSpace(key))
	if v == "" {
		return fallback, nil
	}
	switch v {
	case "1", "true", "t", "yes", "y", "on":
		return true, nil
	case "0", "false", "f", "no", "n", "off":
		return false, nil
	default:
		return false, fmt.Errorf("%s parse error: expected bool", key)
	}
}
