// File: internal/config/config.go
package config

import (
	"errors"
	"fmt"
	"os"
	"os/exec"
	"runtime"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type RuntimeConfig struct {
	Dev bool
}

type LogConfig struct {
	Level    string `yaml:"level"`    // trace|debug|info|warn|error
	Format   string `yaml:"format"`   // json|console
	Sampling bool   `yaml:"sampling"` // enable sampling in prod
}

type RedisConfig struct {
	URL      string `yaml:"url"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// QueueConfig points at the broker holding pending work.
type QueueConfig struct {
	URL    string `yaml:"url"`
	Prefix string `yaml:"prefix"`
}

// ResultConfig points at the backend holding job views.
type ResultConfig struct {
	URL string        `yaml:"url"`
	TTL time.Duration `yaml:"ttl"`
}

type APIConfig struct {
	Port            int           `yaml:"port"`
	ClientOrigin    string        `yaml:"client_origin"`
	SubmitRateLimit int           `yaml:"submit_rate_limit"` // per client per minute, 0 disables
	RequestTimeout  time.Duration `yaml:"request_timeout"`
}

type WorkerConfig struct {
	Concurrency  int           `yaml:"concurrency"`
	ClaimWait    time.Duration `yaml:"claim_wait"`
	HeartbeatTTL time.Duration `yaml:"heartbeat_ttl"`
	MetricsPort  int           `yaml:"metrics_port"`
}

// WhisperConfig mirrors the whisper-cli options exposed to operators.
// Numeric-style options stay strings so "" and "0" can mean "not set".
type WhisperConfig struct {
	CLIPath     string        `yaml:"cli_path"`
	ModelPath   string        `yaml:"model_path"`
	Threads     int           `yaml:"threads"`
	Language    string        `yaml:"language"`
	Translate   bool          `yaml:"translate"`
	SplitOnWord bool          `yaml:"split_on_word"`
	MaxLen      string        `yaml:"max_len"`
	MaxContext  string        `yaml:"max_context"`
	BestOf      string        `yaml:"best_of"`
	BeamSize    string        `yaml:"beam_size"`
	Timeout     time.Duration `yaml:"timeout"`
}

type DownloadConfig struct {
	YtDlpPath     string        `yaml:"ytdlp_path"`
	FFmpegPath    string        `yaml:"ffmpeg_path"`
	AudioFormat   string        `yaml:"audio_format"`
	AudioQuality  string        `yaml:"audio_quality"`
	EngineRetries int           `yaml:"engine_retries"`
	MaxAttempts   int           `yaml:"max_attempts"`
	Backoff       time.Duration `yaml:"backoff"`
	WorkDir       string        `yaml:"work_dir"` // parent of per-job workspaces, "" = system temp dir
}

type CredentialConfig struct {
	Enabled      bool          `yaml:"enabled"`
	CookieFile   string        `yaml:"cookie_file"`
	Browser      string        `yaml:"browser"`
	RefreshHours int           `yaml:"refresh_hours"`
	ProbeURL     string        `yaml:"probe_url"`
	LockBackend  string        `yaml:"lock_backend"` // redis|file
	LockDir      string        `yaml:"lock_dir"`
	LockTTL      time.Duration `yaml:"lock_ttl"`
}

// RefreshInterval is the staleness threshold of the cookie file.
func (c CredentialConfig) RefreshInterval() time.Duration {
	return time.Duration(c.RefreshHours) * time.Hour
}

type Config struct {
	Log        LogConfig        `yaml:"log"`
	Redis      RedisConfig      `yaml:"redis"`
	Queue      QueueConfig      `yaml:"queue"`
	Result     ResultConfig     `yaml:"result"`
	API        APIConfig        `yaml:"api"`
	Worker     WorkerConfig     `yaml:"worker"`
	Whisper    WhisperConfig    `yaml:"whisper"`
	Download   DownloadConfig   `yaml:"download"`
	Credential CredentialConfig `yaml:"credential"`

	Runtime RuntimeConfig `yaml:"-"`
}

// BrokerRedis returns connection settings for the job queue.
func (c *Config) BrokerRedis() *RedisConfig {
	return &RedisConfig{URL: c.Queue.URL, Password: c.Redis.Password, DB: c.Redis.DB}
}

// ResultRedis returns connection settings for the result store.
func (c *Config) ResultRedis() *RedisConfig {
	return &RedisConfig{URL: c.Result.URL, Password: c.Redis.Password, DB: c.Redis.DB}
}

// Default returns the configuration used when neither file nor env override a value.
func Default() Config {
	ffmpeg := "/usr/bin/ffmpeg"
	if p, err := exec.LookPath("ffmpeg"); err == nil {
		ffmpeg = p
	}
	return Config{
		Log:    LogConfig{Level: "info", Format: "json"},
		Redis:  RedisConfig{URL: "redis://localhost:6379/0"},
		Queue:  QueueConfig{Prefix: "transcriber"},
		Result: ResultConfig{URL: "redis://localhost:6379/1", TTL: 24 * time.Hour},
		API: APIConfig{
			Port:           8000,
			ClientOrigin:   "*",
			RequestTimeout: 10 * time.Second,
		},
		Worker: WorkerConfig{
			Concurrency:  runtime.NumCPU(),
			ClaimWait:    2 * time.Second,
			HeartbeatTTL: 30 * time.Second,
			MetricsPort:  9100,
		},
		Whisper: WhisperConfig{
			CLIPath:    "whisper-cli",
			ModelPath:  "/app/whisper.cpp/models/ggml-tiny.en-q8_0.bin",
			Threads:    runtime.NumCPU(),
			MaxLen:     "0",
			MaxContext: "0",
			Timeout:    30 * time.Minute,
		},
		Download: DownloadConfig{
			YtDlpPath:     "yt-dlp",
			FFmpegPath:    ffmpeg,
			AudioFormat:   "wav",
			AudioQuality:  "64K",
			EngineRetries: 5,
			MaxAttempts:   3,
			Backoff:       2 * time.Second,
		},
		Credential: CredentialConfig{
			Enabled:      true,
			CookieFile:   "cookies.txt",
			Browser:      "edge",
			RefreshHours: 12,
			ProbeURL:     "https://www.tiktok.com",
			LockBackend:  "redis",
			LockDir:      os.TempDir(),
			LockTTL:      60 * time.Second,
		},
	}
}

// LoadConfig reads the optional YAML file at path, then overlays environment
// variables (a .env file in the working directory is loaded first if present).
func LoadConfig(path string, dev bool) (*Config, error) {
	cfg := Default()

	if path != "" {
		b, err := os.ReadFile(path)
		switch {
		case err == nil:
			if err := yaml.Unmarshal(b, &cfg); err != nil {
				return nil, fmt.Errorf("parse config: %w", err)
			}
		case errors.Is(err, os.ErrNotExist):
			// env-only deployments ship without a file
		default:
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}
	applyEnv(&cfg)

	if err := normalize(&cfg); err != nil {
		return nil, err
	}
	cfg.Runtime.Dev = dev
	return &cfg, nil
}

func applyEnv(cfg *Config) {
	envString("LOG_LEVEL", &cfg.Log.Level)
	envString("LOG_FORMAT", &cfg.Log.Format)

	envString("REDIS_URL", &cfg.Redis.URL)
	envString("REDIS_PASSWORD", &cfg.Redis.Password)
	envString("CELERY_BROKER_URL", &cfg.Queue.URL)
	envString("BROKER_URL", &cfg.Queue.URL)
	envString("QUEUE_PREFIX", &cfg.Queue.Prefix)
	envString("CELERY_RESULT_BACKEND", &cfg.Result.URL)
	envString("RESULT_BACKEND_URL", &cfg.Result.URL)
	envDuration("RESULT_TTL", &cfg.Result.TTL)

	envInt("HTTP_PORT", &cfg.API.Port)
	envString("CLIENT_ORIGIN", &cfg.API.ClientOrigin)
	envInt("SUBMIT_RATE_LIMIT", &cfg.API.SubmitRateLimit)

	envInt("WORKER_CONCURRENCY", &cfg.Worker.Concurrency)
	envInt("WORKER_METRICS_PORT", &cfg.Worker.MetricsPort)

	envString("WHISPER_CLI_PATH", &cfg.Whisper.CLIPath)
	envString("WHISPER_MODEL_PATH", &cfg.Whisper.ModelPath)
	envInt("WHISPER_THREADS", &cfg.Whisper.Threads)
	envString("WHISPER_LANGUAGE", &cfg.Whisper.Language)
	envBool("WHISPER_TRANSLATE", &cfg.Whisper.Translate)
	envBool("WHISPER_SPLIT_ON_WORD", &cfg.Whisper.SplitOnWord)
	envString("WHISPER_MAX_LEN", &cfg.Whisper.MaxLen)
	envString("WHISPER_MAX_CONTEXT", &cfg.Whisper.MaxContext)
	envString("WHISPER_BEST_OF", &cfg.Whisper.BestOf)
	envString("WHISPER_BEAM_SIZE", &cfg.Whisper.BeamSize)
	envDuration("WHISPER_TIMEOUT", &cfg.Whisper.Timeout)

	envString("YTDLP_PATH", &cfg.Download.YtDlpPath)
	envString("FFMPEG_PATH", &cfg.Download.FFmpegPath)
	envString("DOWNLOAD_WORK_DIR", &cfg.Download.WorkDir)

	envBool("USE_BROWSER_COOKIES", &cfg.Credential.Enabled)
	envString("COOKIES_FILE", &cfg.Credential.CookieFile)
	envString("BROWSER_NAME", &cfg.Credential.Browser)
	envInt("COOKIE_REFRESH_HOURS", &cfg.Credential.RefreshHours)
	envString("LOCK_BACKEND", &cfg.Credential.LockBackend)
	envString("LOCK_DIR", &cfg.Credential.LockDir)
}

func normalize(cfg *Config) error {
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "json"
	}
	if cfg.Queue.URL == "" {
		cfg.Queue.URL = cfg.Redis.URL
	}
	if cfg.Result.URL == "" {
		cfg.Result.URL = cfg.Redis.URL
	}
	if cfg.Queue.Prefix == "" {
		cfg.Queue.Prefix = "transcriber"
	}
	if cfg.Result.TTL <= 0 {
		cfg.Result.TTL = 24 * time.Hour
	}
	if cfg.Worker.Concurrency <= 0 {
		cfg.Worker.Concurrency = runtime.NumCPU()
	}
	if cfg.Worker.ClaimWait <= 0 {
		cfg.Worker.ClaimWait = 2 * time.Second
	}
	if cfg.Worker.HeartbeatTTL <= 0 {
		cfg.Worker.HeartbeatTTL = 30 * time.Second
	}
	if cfg.Download.MaxAttempts <= 0 {
		cfg.Download.MaxAttempts = 3
	}
	if cfg.Download.Backoff < 0 {
		cfg.Download.Backoff = 0
	}
	if cfg.Credential.RefreshHours <= 0 {
		cfg.Credential.RefreshHours = 12
	}
	if cfg.Credential.LockTTL <= 0 {
		cfg.Credential.LockTTL = 60 * time.Second
	}
	cfg.Credential.LockBackend = strings.ToLower(strings.TrimSpace(cfg.Credential.LockBackend))

	// Minimal validation
	if cfg.Redis.URL == "" {
		return errors.New("redis.url is required")
	}
	if cfg.Whisper.CLIPath == "" {
		return errors.New("whisper.cli_path is required")
	}
	if cfg.Whisper.ModelPath == "" {
		return errors.New("whisper.model_path is required")
	}
	switch cfg.Credential.LockBackend {
	case "redis", "file":
	default:
		return fmt.Errorf("credential.lock_backend %q: want redis or file", cfg.Credential.LockBackend)
	}
	return nil
}

func envString(key string, dst *string) {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		*dst = v
	}
}

func envInt(key string, dst *int) {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return
	}
	if n, err := strconv.Atoi(strings.TrimSpace(v)); err == nil {
		*dst = n
	}
}

func envBool(key string, dst *bool) {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return
	}
	*dst = strings.EqualFold(strings.TrimSpace(v), "true")
}

// envDuration accepts Go durations ("90s") or a bare number of seconds.
func envDuration(key string, dst *time.Duration) {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return
	}
	v = strings.TrimSpace(v)
	if d, err := time.ParseDuration(v); err == nil {
		*dst = d
		return
	}
	if n, err := strconv.Atoi(v); err == nil {
		*dst = time.Duration(n) * time.Second
	}
}
