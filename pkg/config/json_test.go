package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
)

func TestUnmarshalConfigJSON(t *testing.T) {
	js := `{
        "i2c": { "bus": "2", "address": 8 },
        "mux": { "enabled": true, "address": 112 },
        "frame_words": 3,
        "interval_ms": 1000,
        "outputs": [{"type":"console"}],
        "sensor_type":"real",
        "channels": [
            {"channel": 0, "enabled": true, "name": "inlet"},
            {"channel": 1, "enabled": false}
        ]
    }`

	var cfg Config
	if err := json.Unmarshal([]byte(js), &cfg); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if cfg.I2C.Address != 8 || cfg.I2C.Bus != "2" {
		t.Fatalf("i2c: got %+v", cfg.I2C)
	}
	if cfg.Mux.Address != 112 || !cfg.Mux.Enabled {
		t.Fatalf("mux: got %+v", cfg.Mux)
	}
	if cfg.FrameWords != 3 {
		t.Fatalf("frame_words: got %d", cfg.FrameWords)
	}
	if cfg.SensorType != "real" {
		t.Fatalf("sensor_type: got %q", cfg.SensorType)
	}
	if len(cfg.Outputs) != 1 || cfg.Outputs[0].Type != "console" {
		t.Fatalf("outputs: %+v", cfg.Outputs)
	}
	if len(cfg.Channels) != 2 {
		t.Fatalf("channels len: %d", len(cfg.Channels))
	}
	if cfg.Channels[0].Name != "inlet" || !cfg.Channels[0].Enabled {
		t.Fatalf("channel0 incorrect: %+v", cfg.Channels[0])
	}
	if cfg.Channels[1].Channel != 1 || cfg.Channels[1].Enabled {
		t.Fatalf("channel1 incorrect: %+v", cfg.Channels[1])
	}
}

func TestLoadYAMLFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "flow.yaml")
	y := `
sensor_type: simulation
frame_words: 3
max_rows: 3600
channels:
  - channel: 0
    enabled: true
  - channel: 5
    enabled: true
outputs:
  - type: mqtt
    interval_ms: 2000
    mqtt:
      server: tcp://localhost:1883
      state_topic: lab/flow/%d
`
	if err := os.WriteFile(path, []byte(y), 0o600); err != nil {
		t.Fatal(err)
	}
	cfg, err := Load([]string{"-config", path, "-env-file", filepath.Join(dir, "none")})
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.SensorType != "simulation" || cfg.FrameWords != 3 || cfg.MaxRows != 3600 {
		t.Fatalf("cfg = %+v", cfg)
	}
	if got := cfg.Ports(); len(got) != 2 || got[1] != 5 {
		t.Fatalf("ports = %v", got)
	}
	if cfg.Outputs[0].MQTT.StateTopic != "lab/flow/%d" || cfg.Outputs[0].IntervalMs != 2000 {
		t.Fatalf("mqtt output = %+v", cfg.Outputs[0])
	}
	// untouched defaults survive
	if cfg.Mux.Address != 0x70 || cfg.IntervalMs != 1000 {
		t.Fatalf("defaults lost: %+v", cfg)
	}
}
