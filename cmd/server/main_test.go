package main

import (
	"io"
	"log/slog"
	"reflect"
	"testing"
	"time"

	"litecast/internal/telemetry"
)

func TestModeValue(t *testing.T) {
	tests := []struct {
		flagMode string
		envMode  string
		want     string
	}{
		{want: "development"},
		{flagMode: "Production", want: "production"},
		{envMode: "production", want: "production"},
		{flagMode: "development", envMode: "production", want: "development"},
	}
	for _, tc := range tests {
		if got := modeValue(tc.flagMode, tc.envMode); got != tc.want {
			t.Errorf("modeValue(%q, %q) = %q, want %q", tc.flagMode, tc.envMode, got, tc.want)
		}
	}
}

func TestResolveListenAddr(t *testing.T) {
	if got := resolveListenAddr("", "production", ""); got != ":80" {
		t.Fatalf("production default = %q", got)
	}
	if got := resolveListenAddr("", "development", ""); got != ":8080" {
		t.Fatalf("development default = %q", got)
	}
	if got := resolveListenAddr(":9000", "production", ":7000"); got != ":9000" {
		t.Fatalf("flag should win, got %q", got)
	}
	if got := resolveListenAddr("", "production", ":7000"); got != ":7000" {
		t.Fatalf("env should win over mode default, got %q", got)
	}
}

func TestResolveStorageDriver(t *testing.T) {
	tests := []struct {
		name string
		flag string
		env  string
		dsn  string
		want string
	}{
		{name: "default json", want: "json"},
		{name: "flag wins", flag: "Postgres", env: "json", want: "postgres"},
		{name: "env fallback", env: "postgres", want: "postgres"},
		{name: "dsn implies postgres", dsn: "postgres://localhost/litecast", want: "postgres"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got, err := resolveStorageDriver(tc.flag, tc.env, tc.dsn)
			if err != nil {
				t.Fatalf("resolveStorageDriver: %v", err)
			}
			if got != tc.want {
				t.Fatalf("driver = %q, want %q", got, tc.want)
			}
		})
	}
}

func TestResolveSessionStoreConfig(t *testing.T) {
	tests := []struct {
		name          string
		flagDriver    string
		envDriver     string
		storageDriver string
		storageDSN    string
		flagDSN       string
		envDSN        string
		want          sessionStoreConfig
		wantErr       bool
	}{
		{name: "defaults to memory", want: sessionStoreConfig{Driver: "memory"}},
		{
			name:    "session dsn implies postgres",
			flagDSN: "postgres://localhost/sessions",
			want:    sessionStoreConfig{Driver: "postgres", DSN: "postgres://localhost/sessions"},
		},
		{
			name:          "follows postgres storage",
			storageDriver: "postgres",
			storageDSN:    "postgres://localhost/litecast",
			want:          sessionStoreConfig{Driver: "postgres", DSN: "postgres://localhost/litecast"},
		},
		{
			name:       "explicit postgres without dsn fails",
			flagDriver: "postgres",
			wantErr:    true,
		},
		{
			name:       "unknown driver fails",
			flagDriver: "etcd",
			wantErr:    true,
		},
		{
			name:          "explicit memory ignores storage dsn",
			flagDriver:    "memory",
			storageDriver: "postgres",
			storageDSN:    "postgres://localhost/litecast",
			want:          sessionStoreConfig{Driver: "memory"},
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got, err := resolveSessionStoreConfig(tc.flagDriver, tc.envDriver, tc.storageDriver, tc.storageDSN, tc.flagDSN, tc.envDSN)
			if tc.wantErr {
				if err == nil {
					t.Fatal("expected error")
				}
				return
			}
			if err != nil {
				t.Fatalf("resolveSessionStoreConfig: %v", err)
			}
			if got != tc.want {
				t.Fatalf("config = %+v, want %+v", got, tc.want)
			}
		})
	}
}

func TestConfigureTelemetryQueue(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	queue, err := configureTelemetryQueue("memory", telemetry.RedisQueueConfig{}, logger)
	if err != nil {
		t.Fatalf("memory queue: %v", err)
	}
	if queue == nil {
		t.Fatal("expected memory queue")
	}

	if _, err := configureTelemetryQueue("redis", telemetry.RedisQueueConfig{}, logger); err == nil {
		t.Fatal("expected error for redis queue without address")
	}
	if _, err := configureTelemetryQueue("kafka", telemetry.RedisQueueConfig{}, logger); err == nil {
		t.Fatal("expected error for unsupported driver")
	}
}

func TestSplitAndTrim(t *testing.T) {
	tests := []struct {
		raw  string
		want []string
	}{
		{raw: "", want: nil},
		{raw: " , , ", want: nil},
		{raw: "https://a.example.com", want: []string{"https://a.example.com"}},
		{raw: " https://a.example.com , https://b.example.com ", want: []string{"https://a.example.com", "https://b.example.com"}},
	}
	for _, tc := range tests {
		if got := splitAndTrim(tc.raw); !reflect.DeepEqual(got, tc.want) {
			t.Errorf("splitAndTrim(%q) = %v, want %v", tc.raw, got, tc.want)
		}
	}
}

func TestResolveDuration(t *testing.T) {
	if got := resolveDuration(42*time.Second, "LITECAST_TEST_DURATION", time.Minute); got != 42*time.Second {
		t.Fatalf("flag value should win, got %v", got)
	}

	t.Setenv("LITECAST_TEST_DURATION", "90s")
	if got := resolveDuration(0, "LITECAST_TEST_DURATION", time.Minute); got != 90*time.Second {
		t.Fatalf("env value = %v", got)
	}

	t.Setenv("LITECAST_TEST_DURATION", "not a duration")
	if got := resolveDuration(0, "LITECAST_TEST_DURATION", time.Minute); got != time.Minute {
		t.Fatalf("fallback = %v", got)
	}
}

func TestResolveIntFromEnv(t *testing.T) {
	t.Setenv("LITECAST_TEST_INT", "7")
	if got := resolveInt(0, "LITECAST_TEST_INT"); got != 7 {
		t.Fatalf("env int = %d", got)
	}
	if got := resolveInt(3, "LITECAST_TEST_INT"); got != 3 {
		t.Fatalf("flag int should win, got %d", got)
	}
}

func TestResolveBool(t *testing.T) {
	if resolveBool(false, "LITECAST_TEST_BOOL") {
		t.Fatal("unset env should be false")
	}
	t.Setenv("LITECAST_TEST_BOOL", "true")
	if !resolveBool(false, "LITECAST_TEST_BOOL") {
		t.Fatal("env true should be honoured")
	}
	t.Setenv("LITECAST_TEST_BOOL", "false")
	if !resolveBool(true, "LITECAST_TEST_BOOL") {
		t.Fatal("flag true should win")
	}
}

func TestFirstNonEmpty(t *testing.T) {
	if got := firstNonEmpty("", "  ", "third"); got != "third" {
		t.Fatalf("firstNonEmpty = %q", got)
	}
	if got := firstNonEmpty(); got != "" {
		t.Fatalf("firstNonEmpty() = %q", got)
	}
}
