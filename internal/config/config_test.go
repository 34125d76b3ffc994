package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestLoadCreatesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "conf", "app.env")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Addr() != DefaultAddr {
		t.Errorf("Addr = %q", cfg.Addr())
	}
	if cfg.JWTExpiration() != DefaultJWTExpiration {
		t.Errorf("JWTExpiration = %v", cfg.JWTExpiration())
	}
	if cfg.TickInterval() != DefaultTickInterval {
		t.Errorf("TickInterval = %v", cfg.TickInterval())
	}
	if len(cfg.JWTSecret()) != 64 {
		t.Errorf("generated secret has length %d", len(cfg.JWTSecret()))
	}
	if cfg.Influx().Enabled() {
		t.Error("influx export enabled without a URL")
	}
	if min, max := cfg.TemperatureRange(); min != 16 || max != 31 {
		t.Errorf("TemperatureRange = %g..%g", min, max)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("config file not written: %v", err)
	}
	if !strings.Contains(string(data), "JWT_SECRET=") {
		t.Errorf("saved file lacks secret:\n%s", data)
	}

	again, err := Load(path)
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if again.JWTSecret() != cfg.JWTSecret() {
		t.Error("secret regenerated on reload")
	}
}

func TestLoadReadsFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "app.env")
	content := "ADDR=:8080\nJWT_SECRET=abc\nJWT_EXPIRATION=3600\nTICK_INTERVAL=100ms\nHOST_NETWORK=false\nINFLUX_URL=http://localhost:8086\nMIN_TEMPERATURE=18\nMAX_TEMPERATURE=28\n"
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Addr() != ":8080" || cfg.JWTSecret() != "abc" {
		t.Errorf("addr/secret = %q/%q", cfg.Addr(), cfg.JWTSecret())
	}
	if cfg.JWTExpiration() != time.Hour {
		t.Errorf("JWTExpiration = %v", cfg.JWTExpiration())
	}
	if cfg.TickInterval() != 100*time.Millisecond {
		t.Errorf("TickInterval = %v", cfg.TickInterval())
	}
	if cfg.HostNetwork() {
		t.Error("HostNetwork should be false")
	}
	if min, max := cfg.TemperatureRange(); min != 18 || max != 28 {
		t.Errorf("TemperatureRange = %g..%g", min, max)
	}
	in := cfg.Influx()
	if !in.Enabled() || in.Bucket != DefaultInfluxBucket || in.Interval != DefaultInfluxInterval {
		t.Errorf("influx = %+v", in)
	}
}

func TestLoadRejectsInvalid(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{"bad port", "ADDR=:99999\n"},
		{"bad addr", "ADDR=nonsense\n"},
		{"short expiry", "JWT_EXPIRATION=10\n"},
		{"zero tick", "TICK_INTERVAL=0s\n"},
		{"inverted range", "MIN_TEMPERATURE=30\nMAX_TEMPERATURE=20\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "app.env")
			if err := os.WriteFile(path, []byte(tt.content), 0o600); err != nil {
				t.Fatal(err)
			}
			if _, err := Load(path); err == nil {
				t.Error("expected error")
			}
		})
	}
}

func TestRotateJWTSecret(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "app.env"))
	if err != nil {
		t.Fatal(err)
	}
	old := cfg.JWTSecret()
	if err := cfg.RotateJWTSecret(); err != nil {
		t.Fatal(err)
	}
	if cfg.JWTSecret() == old {
		t.Error("secret unchanged after rotation")
	}
	if err := cfg.SetJWTSecret(""); err == nil {
		t.Error("empty secret accepted")
	}
	if strings.Contains(cfg.String(), cfg.JWTSecret()) {
		t.Error("String leaks the secret")
	}
}
