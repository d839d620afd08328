package config

import (
	"os"
	"path/filepath"
	"reflect"
	"testing"
)

func TestParseKeyBoolMap(t *testing.T) {
	tests := []struct {
		in   string
		want map[int]bool
		ok   bool
	}{
		{"", map[int]bool{}, true},
		{"0=true,1=false", map[int]bool{0: true, 1: false}, true},
		{"0=true, 2=true", map[int]bool{0: true, 2: true}, true},
		{"bad", nil, false},
		{"x=true", nil, false},
		{"0=maybe", nil, false},
	}
	for _, tt := range tests {
		got, err := parseKeyBoolMap(tt.in)
		if (err == nil) != tt.ok {
			t.Fatalf("parseKeyBoolMap(%q) ok=%v err=%v", tt.in, tt.ok, err)
		}
		if tt.ok && !reflect.DeepEqual(got, tt.want) {
			t.Fatalf("parseKeyBoolMap(%q) = %v; want %v", tt.in, got, tt.want)
		}
	}
}

func TestParseIntOrHex(t *testing.T) {
	tests := []struct {
		in   string
		want int
		ok   bool
	}{
		{"112", 112, true},
		{"0x70", 0x70, true},
		{"0X08", 8, true},
		{"0xZZ", 0, false},
	}
	for _, tt := range tests {
		got, err := parseIntOrHex(tt.in)
		if (err == nil) != tt.ok || (tt.ok && got != tt.want) {
			t.Fatalf("parseIntOrHex(%q) = %d, %v", tt.in, got, err)
		}
	}
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load([]string{"-env-file", filepath.Join(t.TempDir(), "none")})
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if !reflect.DeepEqual(cfg.Ports(), []int{0, 1, 2, 3}) {
		t.Fatalf("ports = %v", cfg.Ports())
	}
	if cfg.IntervalMs != 1000 || cfg.FrameWords != 2 || !cfg.Mux.Enabled || cfg.Mux.Address != 0x70 {
		t.Fatalf("defaults = %+v", cfg)
	}
}

func TestLoadFlagsOverride(t *testing.T) {
	cfg, err := Load([]string{
		"-env-file", filepath.Join(t.TempDir(), "none"),
		"-channels", "1,3",
		"-channels-enabled", "3=false",
		"-frame-words", "3",
		"-mux-address", "0x71",
		"-outputs", "console,mqtt",
		"-output-intervals", "mqtt=5000",
		"-mqtt-server", "tcp://broker:1883",
		"-interval-ms", "500",
		"-sensor-type", "simulation",
	})
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	want := []ChannelConfig{{Channel: 1, Enabled: true}, {Channel: 3, Enabled: false}}
	if !reflect.DeepEqual(cfg.Channels, want) {
		t.Fatalf("channels = %+v", cfg.Channels)
	}
	if cfg.FrameWords != 3 || cfg.Mux.Address != 0x71 || cfg.IntervalMs != 500 {
		t.Fatalf("cfg = %+v", cfg)
	}
	if len(cfg.Outputs) != 2 {
		t.Fatalf("outputs = %+v", cfg.Outputs)
	}
	if cfg.Outputs[0].IntervalMs != 500 || cfg.Outputs[1].IntervalMs != 5000 {
		t.Fatalf("intervals = %d %d", cfg.Outputs[0].IntervalMs, cfg.Outputs[1].IntervalMs)
	}
	if cfg.Outputs[1].MQTT == nil || cfg.Outputs[1].MQTT.Server != "tcp://broker:1883" {
		t.Fatalf("mqtt = %+v", cfg.Outputs[1].MQTT)
	}
}

func TestLoadEnv(t *testing.T) {
	dir := t.TempDir()
	env := filepath.Join(dir, "test.env")
	if err := os.WriteFile(env, []byte("FLOWSENSOR_SENSOR_TYPE=simulation\nFLOWSENSOR_INTERVAL_MS=250\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	// registered with t.Setenv so values loaded from the file are unset again
	t.Setenv("FLOWSENSOR_SENSOR_TYPE", "")
	t.Setenv("FLOWSENSOR_INTERVAL_MS", "")
	os.Unsetenv("FLOWSENSOR_SENSOR_TYPE")
	os.Unsetenv("FLOWSENSOR_INTERVAL_MS")
	t.Setenv("FLOWSENSOR_HTTP_LISTEN", "127.0.0.1:9000")

	cfg, err := Load([]string{"-env-file", env, "-interval-ms", "100"})
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.SensorType != "simulation" {
		t.Fatalf("sensor type = %q", cfg.SensorType)
	}
	if cfg.IntervalMs != 100 {
		t.Fatalf("flag should win over env, interval = %d", cfg.IntervalMs)
	}
	if cfg.HTTP.Listen != "127.0.0.1:9000" {
		t.Fatalf("listen = %q", cfg.HTTP.Listen)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name string
		mod  func(*Config)
	}{
		{"no channels", func(c *Config) { c.Channels = nil }},
		{"port range", func(c *Config) { c.Channels = []ChannelConfig{{Channel: 8}} }},
		{"duplicate", func(c *Config) { c.Channels = []ChannelConfig{{Channel: 1}, {Channel: 1}} }},
		{"no mux", func(c *Config) { c.Mux.Enabled = false }},
		{"frame words", func(c *Config) { c.FrameWords = 4 }},
		{"interval", func(c *Config) { c.IntervalMs = 0 }},
		{"sensor type", func(c *Config) { c.SensorType = "magic" }},
	}
	for _, tt := range tests {
		cfg := DefaultConfig()
		tt.mod(&cfg)
		if err := cfg.Validate(); err == nil {
			t.Fatalf("%s: expected error", tt.name)
		}
	}
	if err := DefaultConfig().Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}
}
