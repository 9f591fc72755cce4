package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/voronovmaksim88/modbus-tcp-slave-sim/common"
)

func newBoundViper(args []string) (*viper.Viper, error) {
	v := viper.New()
	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	BindFlags(v, fs)
	return v, fs.Parse(args)
}

func TestLoad_Defaults(t *testing.T) {
	v, err := newBoundViper(nil)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}

	cfg, err := Load(v, "")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.Host != "0.0.0.0" {
		t.Errorf("Host = %q, want 0.0.0.0", cfg.Host)
	}
	if cfg.Port != common.DefaultTCPPort {
		t.Errorf("Port = %d, want %d", cfg.Port, common.DefaultTCPPort)
	}
	if cfg.UnitID != 1 {
		t.Errorf("UnitID = %d, want 1", cfg.UnitID)
	}
	if cfg.LogLevel != "info" {
		t.Errorf("LogLevel = %q, want info", cfg.LogLevel)
	}
}

func TestLoad_FlagsOverrideDefaults(t *testing.T) {
	v, err := newBoundViper([]string{"--port", "1502", "--unit-id", "7", "--log-level", "debug"})
	if err != nil {
		t.Fatalf("parse: %v", err)
	}

	cfg, err := Load(v, "")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.Port != 1502 {
		t.Errorf("Port = %d, want 1502", cfg.Port)
	}
	if cfg.UnitID != 7 {
		t.Errorf("UnitID = %d, want 7", cfg.UnitID)
	}
	if cfg.LogLevelValue() != common.LevelDebug {
		t.Errorf("LogLevelValue() = %v, want LevelDebug", cfg.LogLevelValue())
	}
}

func TestLoad_EnvOverridesDefaultButNotFlag(t *testing.T) {
	t.Setenv("MODBUSSIM_PORT", "9999")

	v, err := newBoundViper(nil)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	cfg, err := Load(v, "")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Port != 9999 {
		t.Errorf("Port = %d, want 9999 from env", cfg.Port)
	}

	v2, err := newBoundViper([]string{"--port", "1234"})
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	cfg2, err := Load(v2, "")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg2.Port != 1234 {
		t.Errorf("Port = %d, want 1234 (flag beats env)", cfg2.Port)
	}
}

func TestLoad_ConfigFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := "host: 127.0.0.1\nport: 2502\ncatalog-file: vars.yaml\n"
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	v, err := newBoundViper(nil)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	cfg, err := Load(v, path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.Host != "127.0.0.1" {
		t.Errorf("Host = %q, want 127.0.0.1", cfg.Host)
	}
	if cfg.Port != 2502 {
		t.Errorf("Port = %d, want 2502", cfg.Port)
	}
	if cfg.CatalogFile != "vars.yaml" {
		t.Errorf("CatalogFile = %q, want vars.yaml", cfg.CatalogFile)
	}
}

func TestLoad_MissingConfigFile(t *testing.T) {
	v, err := newBoundViper(nil)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if _, err := Load(v, "/nonexistent/path/config.yaml"); err == nil {
		t.Fatal("expected error for missing config file")
	}
}

func TestConfig_LogLevelValue(t *testing.T) {
	cases := map[string]common.LogLevel{
		"trace":   common.LevelTrace,
		"debug":   common.LevelDebug,
		"info":    common.LevelInfo,
		"warn":    common.LevelWarn,
		"warning": common.LevelWarn,
		"error":   common.LevelError,
		"none":    common.LevelNone,
		"TRACE":   common.LevelTrace,
		"":        common.LevelInfo,
		"bogus":   common.LevelInfo,
	}
	for in, want := range cases {
		cfg := &Config{LogLevel: in}
		if got := cfg.LogLevelValue(); got != want {
			t.Errorf("LogLevelValue(%q) = %v, want %v", in, got, want)
		}
	}
}
