package config

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

type Agent struct {
	DataDir   string // directory holding the sqlite store
	AdminPort string // local admin/metrics HTTP port, e.g. :8090
}

type Remote struct {
	BaseURL       string        // remote CRM/booking API base URL
	HealthPath    string        // path probed for connectivity, e.g. /healthz
	SigningSecret string        // HMAC secret shared with the remote API
	TokenSecret   string        // HS256 secret for outbound bearer tokens
	TokenIssuer   string        // iss claim on outbound tokens
	TokenAudience string        // aud claim on outbound tokens
	ShopID        string        // shop_id claim on outbound tokens
	Timeout       time.Duration // per-submission HTTP timeout
}

type Sync struct {
	MaxAttempts     int             // default delivery attempt bound per item
	BackoffSchedule []time.Duration // retry backoff durations
	JitterPercent   float64         // backoff jitter percentage (0.0-1.0)
	ProbeInterval   time.Duration   // connectivity poll fallback interval
}

type DLQ struct {
	Publish     bool   // whether to publish dead-lettered items to NSQ
	NsqdTCPAddr string // e.g. nsqd:4150
	Topic       string // dead letter topic
}

type FakeAPI struct {
	FailFirstN           int           // number of mutation requests to fail initially
	RejectPaths          string        // comma-separated path substrings answered with 422
	SigningSecret        string        // secret for HMAC signature verification
	SigningLeewaySeconds int           // allowed timestamp skew in seconds
	TokenSecret          string        // HS256 secret for bearer token verification
	Port                 string        // server listen port
	ReadTimeout          time.Duration // HTTP read timeout
	WriteTimeout         time.Duration // HTTP write timeout
	IdleTimeout          time.Duration // HTTP idle timeout
}

type Config struct {
	AppName string
	Agent   Agent
	Remote  Remote
	Sync    Sync
	DLQ     DLQ
	FakeAPI FakeAPI
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getenvInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return def
}

func getenvFloat(key string, def float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

func getenvBool(key string, def bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return def
}

func getenvDuration(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}

func parseBackoffSchedule(schedule string) []time.Duration {
	if schedule == "" {
		return []time.Duration{1 * time.Second, 4 * time.Second, 16 * time.Second, 1 * time.Minute}
	}

	parts := strings.Split(schedule, ",")
	durations := make([]time.Duration, 0, len(parts))

	for _, part := range parts {
		part = strings.TrimSpace(part)
		if d, err := time.ParseDuration(part); err == nil {
			durations = append(durations, d)
		}
	}

	if len(durations) == 0 {
		// Fallback to default if parsing failed
		return []time.Duration{1 * time.Second, 4 * time.Second, 16 * time.Second, 1 * time.Minute}
	}

	return durations
}

func FromEnv() Config {
	return Config{
		AppName: getenv("APP_NAME", "shopsync"),
		Agent: Agent{
			DataDir:   getenv("DATA_DIR", ".shopsync"),
			AdminPort: getenv("ADMIN_PORT", ":8090"),
		},
		Remote: Remote{
			BaseURL:       getenv("REMOTE_BASE_URL", "http://localhost:8081"),
			HealthPath:    getenv("REMOTE_HEALTH_PATH", "/healthz"),
			SigningSecret: getenv("SIGNING_SECRET", ""),
			TokenSecret:   getenv("TOKEN_SECRET", ""),
			TokenIssuer:   getenv("TOKEN_ISSUER", "shopsync-agent"),
			TokenAudience: getenv("TOKEN_AUDIENCE", "repair-api"),
			ShopID:        getenv("SHOP_ID", "shop-local"),
			Timeout:       getenvDuration("REMOTE_TIMEOUT", 30*time.Second),
		},
		Sync: Sync{
			MaxAttempts:     getenvInt("MAX_ATTEMPTS", 3),
			BackoffSchedule: parseBackoffSchedule(getenv("BACKOFF_SCHEDULE", "")),
			JitterPercent:   getenvFloat("BACKOFF_JITTER_PCT", 0.25),
			ProbeInterval:   getenvDuration("PROBE_INTERVAL", 30*time.Second),
		},
		DLQ: DLQ{
			Publish:     getenvBool("PUBLISH_DLQ_TOPIC", false),
			NsqdTCPAddr: getenv("NSQD_TCP_ADDR", "nsqd:4150"),
			Topic:       getenv("NSQ_DLQ_TOPIC", "shopsync_dlq"),
		},
		FakeAPI: FakeAPI{
			FailFirstN:           getenvInt("FAIL_FIRST_N", 0),
			RejectPaths:          getenv("REJECT_PATHS", ""),
			SigningSecret:        getenv("SIGNING_SECRET", ""),
			SigningLeewaySeconds: getenvInt("SIGNING_LEEWAY_SECONDS", 300),
			TokenSecret:          getenv("TOKEN_SECRET", ""),
			Port:                 getenv("FAKE_API_PORT", ":8081"),
			ReadTimeout:          getenvDuration("FAKE_API_READ_TIMEOUT", 10*time.Second),
			WriteTimeout:         getenvDuration("FAKE_API_WRITE_TIMEOUT", 10*time.Second),
			IdleTimeout:          getenvDuration("FAKE_API_IDLE_TIMEOUT", 60*time.Second),
		},
	}
}

// DBPath returns the sqlite file path inside the agent data directory.
func (c Config) DBPath() string {
	return filepath.Join(c.Agent.DataDir, "shopsync.db")
}
