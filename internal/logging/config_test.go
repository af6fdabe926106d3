package logging

import (
	"testing"

	"github.com/rs/zerolog"
)

func TestParseLevel(t *testing.T) {
	cases := []struct {
		raw  string
		want zerolog.Level
		ok   bool
	}{
		{"debug", zerolog.DebugLevel, true},
		{" WARN ", zerolog.WarnLevel, true},
		{"warning", zerolog.WarnLevel, true},
		{"off", zerolog.Disabled, true},
		{"", zerolog.InfoLevel, false},
		{"loudest", zerolog.InfoLevel, false},
	}
	for _, tc := range cases {
		got, ok := parseLevel(tc.raw)
		if got != tc.want || ok != tc.ok {
			t.Fatalf("parseLevel(%q) = (%v, %v), want (%v, %v)", tc.raw, got, ok, tc.want, tc.ok)
		}
	}
}

func TestParseBool(t *testing.T) {
	if v, ok := parseBool("true"); !v || !ok {
		t.Fatalf("parseBool(true) = (%v, %v)", v, ok)
	}
	if _, ok := parseBool(""); ok {
		t.Fatal("empty value must not count as set")
	}
	if _, ok := parseBool("sometimes"); ok {
		t.Fatal("junk value must not count as set")
	}
}

func TestApplyEnvOverrides(t *testing.T) {
	t.Setenv(EnvLogLevel, "error")
	t.Setenv(EnvLogTimestamp, "true")
	t.Setenv(EnvLogJSON, "1")

	cfg := defaultConfig(ProfileQuiet)
	applyEnvOverrides(&cfg)
	if cfg.Level != zerolog.ErrorLevel {
		t.Fatalf("level override lost: %v", cfg.Level)
	}
	if !cfg.Timestamp || !cfg.JSON {
		t.Fatalf("bool overrides lost: %+v", cfg)
	}
}

func TestDefaultConfigPerProfile(t *testing.T) {
	if cfg := defaultConfig(ProfileRuntime); cfg.Level != zerolog.InfoLevel || !cfg.Timestamp {
		t.Fatalf("unexpected runtime profile: %+v", cfg)
	}
	if cfg := defaultConfig(ProfileQuiet); cfg.Level != zerolog.WarnLevel {
		t.Fatalf("unexpected quiet profile: %+v", cfg)
	}
	if cfg := defaultConfig(ProfileTest); cfg.Level != zerolog.DebugLevel {
		t.Fatalf("unexpected test profile: %+v", cfg)
	}
}
