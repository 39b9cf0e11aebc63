package config

import (
	"os"
	"strings"
	"sync"
	"testing"
	"time"
)

// ---------------------------------------------------------------------------
// DatabaseConfig.GetDSN
// ---------------------------------------------------------------------------

func TestGetDSN(t *testing.T) {
	tests := []struct {
		name string
		cfg  DatabaseConfig
		want string
	}{
		{
			name: "standard config",
			cfg: DatabaseConfig{
				Host:     "localhost",
				Port:     5432,
				User:     "miniaws",
				Password: "secret",
				Name:     "mini_aws",
				SSLMode:  "require",
			},
			want: "host=localhost port=5432 user=miniaws password=secret dbname=mini_aws sslmode=require",
		},
		{
			name: "empty password",
			cfg: DatabaseConfig{
				Host:    "db.example.com",
				Port:    5433,
				User:    "admin",
				Name:    "mydb",
				SSLMode: "disable",
			},
			want: "host=db.example.com port=5433 user=admin password= dbname=mydb sslmode=disable",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := tt.cfg.GetDSN()
			if got != tt.want {
				t.Errorf("GetDSN() = %q, want %q", got, tt.want)
			}
		})
	}
}

// ---------------------------------------------------------------------------
// ServerConfig.GetAddress
// ---------------------------------------------------------------------------

func TestGetAddress(t *testing.T) {
	tests := []struct {
		name string
		cfg  ServerConfig
		want string
	}{
		{"default", ServerConfig{Host: "0.0.0.0", Port: 8080}, "0.0.0.0:8080"},
		{"localhost", ServerConfig{Host: "localhost", Port: 3000}, "localhost:3000"},
		{"empty host", ServerConfig{Host: "", Port: 8080}, ":8080"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := tt.cfg.GetAddress()
			if got != tt.want {
				t.Errorf("GetAddress() = %q, want %q", got, tt.want)
			}
		})
	}
}

// ---------------------------------------------------------------------------
// Config.Validate
// ---------------------------------------------------------------------------

func minimalValidConfig() *Config {
	return &Config{
		Server: ServerConfig{Port: 8080},
		Auth: AuthConfig{
			APIKeys:    APIKeyConfig{Prefix: "maws"},
			BcryptCost: 10,
		},
		Provisioning: ProvisioningConfig{
			MinDelay:    2 * time.Second,
			MaxDelay:    3 * time.Second,
			FailureRate: 0,
			Timeout:     30 * time.Second,
		},
		Security: SecurityConfig{
			RateLimiting: RateLimitingConfig{Enabled: true, Backend: "memory", RequestsPerMinute: 60, Burst: 10},
		},
		Logging:   LoggingConfig{Level: "info"},
		Telemetry: TelemetryConfig{Metrics: MetricsConfig{Enabled: true, PrometheusPort: 9090}},
		Events:    EventsConfig{FeedSize: 100},
	}
}

func TestValidate(t *testing.T) {
	t.Run("valid minimal config passes", func(t *testing.T) {
		if err := minimalValidConfig().Validate(); err != nil {
			t.Errorf("Validate() unexpected error: %v", err)
		}
	})

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"port zero", func(c *Config) { c.Server.Port = 0 }, "invalid server port"},
		{"port too high", func(c *Config) { c.Server.Port = 70000 }, "invalid server port"},
		{"database enabled without host", func(c *Config) {
			c.Database = DatabaseConfig{Enabled: true, Name: "db", User: "u"}
		}, "database.host"},
		{"database enabled without user", func(c *Config) {
			c.Database = DatabaseConfig{Enabled: true, Host: "h", Name: "db"}
		}, "database.user"},
		{"redis without addr", func(c *Config) { c.Redis = RedisConfig{Enabled: true} }, "redis.addr"},
		{"bcrypt cost too low", func(c *Config) { c.Auth.BcryptCost = 1 }, "bcrypt_cost"},
		{"bcrypt cost too high", func(c *Config) { c.Auth.BcryptCost = 40 }, "bcrypt_cost"},
		{"empty key prefix", func(c *Config) { c.Auth.APIKeys.Prefix = "" }, "prefix"},
		{"min delay above max", func(c *Config) {
			c.Provisioning.MinDelay = 5 * time.Second
		}, "exceeds max_delay"},
		{"negative delay", func(c *Config) { c.Provisioning.MinDelay = -time.Second }, "negative"},
		{"failure rate above one", func(c *Config) { c.Provisioning.FailureRate = 1.5 }, "failure_rate"},
		{"failure rate negative", func(c *Config) { c.Provisioning.FailureRate = -0.1 }, "failure_rate"},
		{"zero timeout", func(c *Config) { c.Provisioning.Timeout = 0 }, "timeout"},
		{"unknown limiter backend", func(c *Config) { c.Security.RateLimiting.Backend = "memcached" }, "invalid rate limiting backend"},
		{"redis limiter without redis", func(c *Config) { c.Security.RateLimiting.Backend = "redis" }, "redis is not enabled"},
		{"zero rpm", func(c *Config) { c.Security.RateLimiting.RequestsPerMinute = 0 }, "requests_per_minute"},
		{"metrics port clash", func(c *Config) { c.Telemetry.Metrics.PrometheusPort = 8080 }, "must differ"},
		{"zero feed size", func(c *Config) { c.Events.FeedSize = 0 }, "feed_size"},
		{"nats without url", func(c *Config) { c.Events.NATS.Enabled = true }, "events.nats.url"},
		{"webhook without url", func(c *Config) { c.Events.Webhook.Enabled = true }, "events.webhook.url"},
		{"file sink without path", func(c *Config) { c.Events.File.Enabled = true }, "events.file.path"},
		{"bad log level", func(c *Config) { c.Logging.Level = "verbose" }, "invalid logging level"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := minimalValidConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if err == nil {
				t.Fatalf("Validate() = nil, want error containing %q", tt.wantErr)
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Validate() = %q, want error containing %q", err.Error(), tt.wantErr)
			}
		})
	}

	t.Run("disabled limiter ignores backend", func(t *testing.T) {
		cfg := minimalValidConfig()
		cfg.Security.RateLimiting = RateLimitingConfig{Enabled: false, Backend: "bogus"}
		if err := cfg.Validate(); err != nil {
			t.Errorf("Validate() unexpected error: %v", err)
		}
	})

	t.Run("redis limiter with redis enabled", func(t *testing.T) {
		cfg := minimalValidConfig()
		cfg.Redis = RedisConfig{Enabled: true, Addr: "localhost:6379"}
		cfg.Security.RateLimiting.Backend = "redis"
		if err := cfg.Validate(); err != nil {
			t.Errorf("Validate() unexpected error: %v", err)
		}
	})
}

// ---------------------------------------------------------------------------
// expandEnv
// ---------------------------------------------------------------------------

func TestExpandEnv(t *testing.T) {
	t.Run("expands set variable", func(t *testing.T) {
		t.Setenv("CONFIG_TEST_VAR", "hello")
		if got := expandEnv("${CONFIG_TEST_VAR}"); got != "hello" {
			t.Errorf("expandEnv() = %q, want %q", got, "hello")
		}
	})

	t.Run("plain string passthrough", func(t *testing.T) {
		if got := expandEnv("no-vars-here"); got != "no-vars-here" {
			t.Errorf("expandEnv() = %q, want %q", got, "no-vars-here")
		}
	})

	t.Run("unset variable expands to empty string", func(t *testing.T) {
		os.Unsetenv("CONFIG_TEST_DEFINITELY_UNSET_12345")
		if got := expandEnv("${CONFIG_TEST_DEFINITELY_UNSET_12345}"); got != "" {
			t.Errorf("expandEnv() = %q, want empty string", got)
		}
	})
}

// ---------------------------------------------------------------------------
// Load
// ---------------------------------------------------------------------------

// writeTempConfig creates a temp YAML file and registers a cleanup to remove it.
func writeTempConfig(t *testing.T, content string) string {
	t.Helper()
	f, err := os.CreateTemp("", "config-test-*.yaml")
	if err != nil {
		t.Fatal("CreateTemp:", err)
	}
	t.Cleanup(func() { os.Remove(f.Name()) })
	if _, err := f.WriteString(content); err != nil {
		t.Fatal("WriteString:", err)
	}
	f.Close()
	return f.Name()
}

func TestLoad_WithConfigFile(t *testing.T) {
	const content = `
server:
  host: "testhost"
  port: 9999
provisioning:
  min_delay: 10ms
  max_delay: 20ms
  failure_rate: 0.25
logging:
  level: "debug"
events:
  nats:
    enabled: true
    url: "nats://broker:4222"
`
	path := writeTempConfig(t, content)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}

	if cfg.Server.Host != "testhost" {
		t.Errorf("Server.Host = %q, want testhost", cfg.Server.Host)
	}
	if cfg.Server.Port != 9999 {
		t.Errorf("Server.Port = %d, want 9999", cfg.Server.Port)
	}
	if cfg.Provisioning.MinDelay != 10*time.Millisecond {
		t.Errorf("Provisioning.MinDelay = %v, want 10ms", cfg.Provisioning.MinDelay)
	}
	if cfg.Provisioning.FailureRate != 0.25 {
		t.Errorf("Provisioning.FailureRate = %v, want 0.25", cfg.Provisioning.FailureRate)
	}
	if cfg.Logging.Level != "debug" {
		t.Errorf("Logging.Level = %q, want debug", cfg.Logging.Level)
	}
	if !cfg.Events.NATS.Enabled || cfg.Events.NATS.URL != "nats://broker:4222" {
		t.Errorf("Events.NATS = %+v, want enabled with broker url", cfg.Events.NATS)
	}
}

func TestLoad_DefaultsApplied(t *testing.T) {
	path := writeTempConfig(t, "logging:\n  format: text\n")
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}

	if cfg.Server.Port != 8080 {
		t.Errorf("default Server.Port = %d, want 8080", cfg.Server.Port)
	}
	if cfg.Server.ShutdownTimeout != 30*time.Second {
		t.Errorf("default Server.ShutdownTimeout = %v, want 30s", cfg.Server.ShutdownTimeout)
	}
	if cfg.Database.Enabled {
		t.Error("default Database.Enabled = true, want false")
	}
	if cfg.Auth.APIKeys.Prefix != "maws" {
		t.Errorf("default Auth.APIKeys.Prefix = %q, want maws", cfg.Auth.APIKeys.Prefix)
	}
	if cfg.Provisioning.MinDelay != 2*time.Second || cfg.Provisioning.MaxDelay != 3*time.Second {
		t.Errorf("default provisioning delay = [%v, %v], want [2s, 3s]",
			cfg.Provisioning.MinDelay, cfg.Provisioning.MaxDelay)
	}
	if cfg.Security.RateLimiting.Backend != "memory" {
		t.Errorf("default rate limiting backend = %q, want memory", cfg.Security.RateLimiting.Backend)
	}
	if cfg.Events.FeedSize != 100 {
		t.Errorf("default Events.FeedSize = %d, want 100", cfg.Events.FeedSize)
	}
}

func TestLoad_EnvOverride(t *testing.T) {
	t.Setenv("MINIAWS_SERVER_PORT", "7070")
	t.Setenv("MINIAWS_PROVISIONING_FAILURE_RATE", "0.5")
	path := writeTempConfig(t, "server:\n  port: 8080\n")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if cfg.Server.Port != 7070 {
		t.Errorf("Server.Port = %d, want 7070 from env", cfg.Server.Port)
	}
	if cfg.Provisioning.FailureRate != 0.5 {
		t.Errorf("Provisioning.FailureRate = %v, want 0.5 from env", cfg.Provisioning.FailureRate)
	}
}

func TestLoad_EnvVarExpansion(t *testing.T) {
	t.Setenv("TEST_SEAL_KEY", "0123456789abcdef")
	const content = `
auth:
  api_keys:
    encryption_key: "${TEST_SEAL_KEY}"
`
	path := writeTempConfig(t, content)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if cfg.Auth.APIKeys.EncryptionKey != "0123456789abcdef" {
		t.Errorf("EncryptionKey = %q, want expanded value", cfg.Auth.APIKeys.EncryptionKey)
	}
}

func TestLoad_InvalidYAML(t *testing.T) {
	path := writeTempConfig(t, "server: [unclosed")
	if _, err := Load(path); err == nil {
		t.Error("Load() expected error for invalid YAML, got nil")
	}
}

func TestLoad_InvalidValues(t *testing.T) {
	path := writeTempConfig(t, "provisioning:\n  failure_rate: 2\n")
	if _, err := Load(path); err == nil {
		t.Error("Load() expected validation error for failure_rate 2, got nil")
	}
}

// ---------------------------------------------------------------------------
// Watch
// ---------------------------------------------------------------------------

func TestWatch_RequiresPath(t *testing.T) {
	if err := Watch("", func(*Config) {}); err == nil {
		t.Error("Watch(\"\") expected error, got nil")
	}
}

func TestWatch_DeliversChanges(t *testing.T) {
	path := writeTempConfig(t, "logging:\n  level: info\n")

	var mu sync.Mutex
	var levels []string
	if err := Watch(path, func(c *Config) {
		mu.Lock()
		levels = append(levels, c.Logging.Level)
		mu.Unlock()
	}); err != nil {
		t.Fatalf("Watch() error: %v", err)
	}

	if err := os.WriteFile(path, []byte("logging:\n  level: debug\n"), 0o600); err != nil {
		t.Fatal("WriteFile:", err)
	}

	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		mu.Lock()
		for _, l := range levels {
			if l == "debug" {
				mu.Unlock()
				return
			}
		}
		mu.Unlock()
		time.Sleep(20 * time.Millisecond)
	}
	t.Error("Watch callback did not observe the debug level within 3s")
}
