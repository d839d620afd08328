package config

import (
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

const envPrefix = "FLOWSENSOR_"

type MQTTConfig struct {
	Server            string `json:"server" yaml:"server"`
	Username          string `json:"username" yaml:"username"`
	Password          string `json:"password" yaml:"password"`
	ClientID          string `json:"client_id" yaml:"client_id"`
	StateTopic        string `json:"state_topic" yaml:"state_topic"`
	DiscoveryTopic    string `json:"discovery_topic" yaml:"discovery_topic"`
	DiscoveryName     string `json:"discovery_name" yaml:"discovery_name"`
	DiscoveryUniqueID string `json:"discovery_unique_id" yaml:"discovery_unique_id"`
}

type OutputConfig struct {
	Type       string      `json:"type" yaml:"type"`
	IntervalMs int         `json:"interval_ms,omitempty" yaml:"interval_ms,omitempty"`
	MQTT       *MQTTConfig `json:"mqtt,omitempty" yaml:"mqtt,omitempty"`
}

// ChannelConfig describes one sensor. Channel is the multiplexer port it
// is wired to; Enabled is its initial toggle state.
type ChannelConfig struct {
	Channel int    `json:"channel" yaml:"channel"`
	Enabled bool   `json:"enabled" yaml:"enabled"`
	Name    string `json:"name,omitempty" yaml:"name,omitempty"`
}

type I2CConfig struct {
	Bus     string `json:"bus" yaml:"bus"`
	Address int    `json:"address" yaml:"address"`
}

type MuxConfig struct {
	Enabled bool `json:"enabled" yaml:"enabled"`
	Address int  `json:"address" yaml:"address"`
}

type HTTPConfig struct {
	Listen string `json:"listen" yaml:"listen"`
}

type Config struct {
	I2C          I2CConfig       `json:"i2c" yaml:"i2c"`
	Mux          MuxConfig       `json:"mux" yaml:"mux"`
	FrameWords   int             `json:"frame_words" yaml:"frame_words"`
	FlowScale    float64         `json:"flow_scale" yaml:"flow_scale"`
	TempScale    float64         `json:"temp_scale" yaml:"temp_scale"`
	SettleMs     int             `json:"settle_ms" yaml:"settle_ms"`
	SensorType   string          `json:"sensor_type" yaml:"sensor_type"`
	SimFaultRate float64         `json:"sim_fault_rate" yaml:"sim_fault_rate"`
	Channels     []ChannelConfig `json:"channels" yaml:"channels"`
	IntervalMs   int             `json:"interval_ms" yaml:"interval_ms"`
	MaxRows      int             `json:"max_rows" yaml:"max_rows"`
	Outputs      []OutputConfig  `json:"outputs" yaml:"outputs"`
	HTTP         HTTPConfig      `json:"http" yaml:"http"`
	LogLevel     string          `json:"log_level" yaml:"log_level"`
}

func DefaultConfig() Config {
	return Config{
		I2C:        I2CConfig{Bus: "1", Address: 0x08},
		Mux:        MuxConfig{Enabled: true, Address: 0x70},
		FrameWords: 2,
		FlowScale:  500.0,
		TempScale:  200.0,
		SettleMs:   5,
		SensorType: "real",
		Channels: []ChannelConfig{
			{Channel: 0, Enabled: true},
			{Channel: 1, Enabled: true},
			{Channel: 2, Enabled: true},
			{Channel: 3, Enabled: true},
		},
		IntervalMs: 1000,
		Outputs:    []OutputConfig{{Type: "websocket", IntervalMs: 1000}},
		HTTP:       HTTPConfig{Listen: ":8080"},
		LogLevel:   "info",
	}
}

// Ports returns the multiplexer port of every configured channel in order.
func (c Config) Ports() []int {
	out := make([]int, len(c.Channels))
	for i, ch := range c.Channels {
		out[i] = ch.Channel
	}
	return out
}

// LoadFromFlags loads configuration from the command line.
func LoadFromFlags() (Config, error) {
	return Load(os.Args[1:])
}

// Load builds the configuration from defaults, an optional JSON or YAML
// file, FLOWSENSOR_* environment variables (a .env file is honoured) and
// finally args. Later sources override earlier ones.
func Load(args []string) (Config, error) {
	fs := flag.NewFlagSet("flowsensor", flag.ContinueOnError)
	cfgPath := fs.String("config", "", "Path to JSON or YAML config file")
	envFile := fs.String("env-file", ".env", "dotenv file with FLOWSENSOR_* variables")
	flagI2CBus := fs.String("i2c-bus", "", "I2C bus (e.g., '1' -> /dev/i2c-1)")
	flagI2CAddStr := fs.String("i2c-address", "", "Sensor I2C address (decimal or 0x hex)")
	flagMuxAddStr := fs.String("mux-address", "", "Multiplexer I2C address (decimal or 0x hex)")
	flagNoMux := fs.Bool("no-mux", false, "Single sensor wired without multiplexer")
	flagFrameWords := fs.Int("frame-words", -1, "Words per measurement frame: 2 (flow,temp) or 3 (+flags)")
	flagSettle := fs.Int("settle-ms", -1, "Delay after start/stop commands in ms")
	flagSensorType := fs.String("sensor-type", "", "sensor type: real|simulation")
	flagChannels := fs.String("channels", "", "Comma-separated mux ports e.g. 0,1,2,3")
	flagChannelsEnabled := fs.String("channels-enabled", "", "Initial enable state per port e.g. 0=true,1=false")
	flagInterval := fs.Int("interval-ms", -1, "Poll interval in ms")
	flagMaxRows := fs.Int("max-rows", -1, "Maximum rows per recording (0 = unbounded)")
	flagOutputs := fs.String("outputs", "", "Comma-separated outputs (console,mqtt,websocket)")
	flagOutputIntervals := fs.String("output-intervals", "", "Comma-separated output intervals e.g. console=1000,mqtt=5000")
	flagMQTTServer := fs.String("mqtt-server", "", "MQTT server (tcp://host:port)")
	flagMQTTUser := fs.String("mqtt-user", "", "MQTT username")
	flagMQTTPass := fs.String("mqtt-pass", "", "MQTT password")
	flagClientID := fs.String("mqtt-client-id", "", "MQTT client id")
	flagTopic := fs.String("mqtt-topic", "", "MQTT state topic, %d is replaced by the channel number")
	flagHTTP := fs.String("http-listen", "", "HTTP listen address, empty string disables")
	flagLogLevel := fs.String("log-level", "", "debug|info|warn|error")
	flagFaultRate := fs.Float64("sim-fault-rate", math.NaN(), "Simulated bus fault probability")

	if err := fs.Parse(args); err != nil {
		return Config{}, err
	}

	cfg := DefaultConfig()

	if *cfgPath != "" {
		if err := loadFile(*cfgPath, &cfg); err != nil {
			return cfg, err
		}
	}

	_ = godotenv.Load(*envFile)
	if err := applyEnv(&cfg); err != nil {
		return cfg, err
	}

	if *flagI2CBus != "" {
		cfg.I2C.Bus = *flagI2CBus
	}
	if *flagI2CAddStr != "" {
		v, err := parseIntOrHex(*flagI2CAddStr)
		if err != nil {
			return cfg, fmt.Errorf("i2c-address: %w", err)
		}
		cfg.I2C.Address = v
	}
	if *flagMuxAddStr != "" {
		v, err := parseIntOrHex(*flagMuxAddStr)
		if err != nil {
			return cfg, fmt.Errorf("mux-address: %w", err)
		}
		cfg.Mux.Address = v
	}
	if *flagNoMux {
		cfg.Mux.Enabled = false
	}
	if *flagFrameWords != -1 {
		cfg.FrameWords = *flagFrameWords
	}
	if *flagSettle != -1 {
		cfg.SettleMs = *flagSettle
	}
	if *flagSensorType != "" {
		cfg.SensorType = *flagSensorType
	}
	if *flagChannels != "" {
		chs, err := parseChannels(*flagChannels)
		if err != nil {
			return cfg, err
		}
		cfg.Channels = make([]ChannelConfig, len(chs))
		for i, ch := range chs {
			cfg.Channels[i] = ChannelConfig{Channel: ch, Enabled: true}
		}
	}
	if *flagChannelsEnabled != "" {
		m, err := parseKeyBoolMap(*flagChannelsEnabled)
		if err != nil {
			return cfg, fmt.Errorf("channels-enabled: %w", err)
		}
		for i := range cfg.Channels {
			if v, ok := m[cfg.Channels[i].Channel]; ok {
				cfg.Channels[i].Enabled = v
			}
		}
	}
	if *flagInterval != -1 {
		cfg.IntervalMs = *flagInterval
	}
	if *flagMaxRows != -1 {
		cfg.MaxRows = *flagMaxRows
	}
	if *flagOutputs != "" {
		// convert simple CSV of types into structured OutputConfig entries
		parts := parseCSV(*flagOutputs)
		outs := make([]OutputConfig, 0, len(parts))
		for _, p := range parts {
			outs = append(outs, OutputConfig{Type: p, IntervalMs: cfg.IntervalMs})
		}
		cfg.Outputs = outs
	}
	if *flagOutputIntervals != "" {
		for _, p := range parseCSV(*flagOutputIntervals) {
			kv := strings.SplitN(p, "=", 2)
			if len(kv) != 2 {
				continue
			}
			v, err := strconv.Atoi(strings.TrimSpace(kv[1]))
			if err != nil {
				return cfg, fmt.Errorf("output-intervals %q: %w", p, err)
			}
			for i := range cfg.Outputs {
				if cfg.Outputs[i].Type == strings.TrimSpace(kv[0]) {
					cfg.Outputs[i].IntervalMs = v
				}
			}
		}
	}
	applyMQTT(&cfg, MQTTConfig{
		Server:     *flagMQTTServer,
		Username:   *flagMQTTUser,
		Password:   *flagMQTTPass,
		ClientID:   *flagClientID,
		StateTopic: *flagTopic,
	})
	if *flagHTTP != "" {
		cfg.HTTP.Listen = *flagHTTP
	}
	if *flagLogLevel != "" {
		cfg.LogLevel = *flagLogLevel
	}
	if !math.IsNaN(*flagFaultRate) {
		cfg.SimFaultRate = *flagFaultRate
	}
	// ensure outputs have interval default
	for i := range cfg.Outputs {
		if cfg.Outputs[i].IntervalMs == 0 {
			cfg.Outputs[i].IntervalMs = cfg.IntervalMs
		}
	}

	return cfg, cfg.Validate()
}

func loadFile(path string, cfg *Config) error {
	b, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config: %w", err)
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(b, cfg)
	default:
		err = json.Unmarshal(b, cfg)
	}
	if err != nil {
		return fmt.Errorf("parse config: %w", err)
	}
	return nil
}

func applyEnv(cfg *Config) error {
	if v := os.Getenv(envPrefix + "I2C_BUS"); v != "" {
		cfg.I2C.Bus = v
	}
	if v := os.Getenv(envPrefix + "SENSOR_TYPE"); v != "" {
		cfg.SensorType = v
	}
	if v := os.Getenv(envPrefix + "INTERVAL_MS"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%sINTERVAL_MS: %w", envPrefix, err)
		}
		cfg.IntervalMs = n
	}
	if v := os.Getenv(envPrefix + "HTTP_LISTEN"); v != "" {
		cfg.HTTP.Listen = v
	}
	if v := os.Getenv(envPrefix + "LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
	applyMQTT(cfg, MQTTConfig{
		Server:   os.Getenv(envPrefix + "MQTT_SERVER"),
		Username: os.Getenv(envPrefix + "MQTT_USER"),
		Password: os.Getenv(envPrefix + "MQTT_PASS"),
	})
	return nil
}

// applyMQTT copies the non-empty fields of m into every mqtt output,
// creating one when none exists.
func applyMQTT(cfg *Config, m MQTTConfig) {
	if m == (MQTTConfig{}) {
		return
	}
	set := func(dst *MQTTConfig) {
		if m.Server != "" {
			dst.Server = m.Server
		}
		if m.Username != "" {
			dst.Username = m.Username
		}
		if m.Password != "" {
			dst.Password = m.Password
		}
		if m.ClientID != "" {
			dst.ClientID = m.ClientID
		}
		if m.StateTopic != "" {
			dst.StateTopic = m.StateTopic
		}
	}
	applied := false
	for i := range cfg.Outputs {
		if strings.ToLower(cfg.Outputs[i].Type) == "mqtt" {
			if cfg.Outputs[i].MQTT == nil {
				cfg.Outputs[i].MQTT = &MQTTConfig{}
			}
			set(cfg.Outputs[i].MQTT)
			applied = true
		}
	}
	if !applied {
		out := OutputConfig{Type: "mqtt", IntervalMs: cfg.IntervalMs, MQTT: &MQTTConfig{}}
		set(out.MQTT)
		cfg.Outputs = append(cfg.Outputs, out)
	}
}

func (c Config) Validate() error {
	if len(c.Channels) == 0 {
		return errors.New("at least one channel is required")
	}
	seen := map[int]bool{}
	for _, ch := range c.Channels {
		if ch.Channel < 0 || ch.Channel >= 8 {
			return fmt.Errorf("channel %d out of range [0,8)", ch.Channel)
		}
		if seen[ch.Channel] {
			return fmt.Errorf("channel %d configured twice", ch.Channel)
		}
		seen[ch.Channel] = true
	}
	if !c.Mux.Enabled && len(c.Channels) > 1 {
		return errors.New("more than one channel requires the multiplexer")
	}
	if c.FrameWords != 2 && c.FrameWords != 3 {
		return fmt.Errorf("frame-words must be 2 or 3, got %d", c.FrameWords)
	}
	if c.IntervalMs <= 0 {
		return errors.New("interval-ms must be > 0")
	}
	if c.FlowScale == 0 || c.TempScale == 0 {
		return errors.New("scale factors must be non-zero")
	}
	switch c.SensorType {
	case "real", "simulation":
	default:
		return fmt.Errorf("unknown sensor type %q", c.SensorType)
	}
	return nil
}

func parseIntOrHex(s string) (int, error) {
	if strings.HasPrefix(s, "0x") || strings.HasPrefix(s, "0X") {
		v, err := strconv.ParseInt(s[2:], 16, 0)
		return int(v), err
	}
	v, err := strconv.Atoi(s)
	return v, err
}

func parseCSV(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if t := strings.TrimSpace(p); t != "" {
			out = append(out, t)
		}
	}
	return out
}

func parseChannels(s string) ([]int, error) {
	parts := strings.Split(s, ",")
	out := make([]int, 0, len(parts))
	for _, p := range parts {
		t := strings.TrimSpace(p)
		if t == "" {
			continue
		}
		v, err := strconv.Atoi(t)
		if err != nil {
			return nil, fmt.Errorf("invalid channel '%s': %w", t, err)
		}
		out = append(out, v)
	}
	return out, nil
}

func parseKeyBoolMap(s string) (map[int]bool, error) {
	out := map[int]bool{}
	for _, p := range parseCSV(s) {
		kv := strings.SplitN(p, "=", 2)
		if len(kv) != 2 {
			return nil, fmt.Errorf("invalid entry %q, want key=value", p)
		}
		k, err := strconv.Atoi(strings.TrimSpace(kv[0]))
		if err != nil {
			return nil, fmt.Errorf("invalid key %q: %w", kv[0], err)
		}
		v, err := strconv.ParseBool(strings.TrimSpace(kv[1]))
		if err != nil {
			return nil, fmt.Errorf("invalid value %q: %w", kv[1], err)
		}
		out[k] = v
	}
	return out, nil
}
