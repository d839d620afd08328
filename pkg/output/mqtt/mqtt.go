package mqtt

import (
	"encoding/json"
	"fmt"
	"strings"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/ericogr/flowsensor-logger/pkg/config"
	"github.com/ericogr/flowsensor-logger/pkg/output"
	"github.com/ericogr/flowsensor-logger/pkg/station"
	"go.uber.org/zap"
)

const (
	// defaults
	DefaultServer      = "tcp://localhost:1883"
	DefaultClientID    = "flowsensor-client"
	perChannelTopicFmt = "flowsensor/channel/%d"
	runTopicSuffix     = "/run"
	// discovery payload keys/values
	keyName                = "name"
	keyStateTopic          = "state_topic"
	keyUnitOfMeasurement   = "unit_of_measurement"
	keyDeviceClass         = "device_class"
	keyStateClass          = "state_class"
	keyValueTemplate       = "value_template"
	keyJSONAttributesTopic = "json_attributes_topic"
	keyUniqueID            = "unique_id"
	unitFlow               = "mL/min"
	unitCelsius            = "°C"
	deviceClassTemperature = "temperature"
	stateClassMeasurement  = "measurement"
	valueTemplateFlow      = "{{ value_json.flow }}"
	valueTemplateTemp      = "{{ value_json.temp }}"
)

type MQTTOutput struct {
	client     mqtt.Client
	stateTopic string
	runTopic   string
}

func NewMQTT(cfg config.MQTTConfig, channels []config.ChannelConfig, log *zap.SugaredLogger) (output.Output, error) {
	if cfg.Server == "" {
		cfg.Server = DefaultServer
	}
	if cfg.ClientID == "" {
		cfg.ClientID = DefaultClientID
	}
	opts := mqtt.NewClientOptions().AddBroker(cfg.Server).SetClientID(cfg.ClientID).SetAutoReconnect(true)
	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
	}
	if cfg.Password != "" {
		opts.SetPassword(cfg.Password)
	}
	client := mqtt.NewClient(opts)
	token := client.Connect()
	if token.Wait() && token.Error() != nil {
		return nil, fmt.Errorf("mqtt connect: %w", token.Error())
	}

	m := &MQTTOutput{client: client, stateTopic: cfg.StateTopic, runTopic: runTopic(cfg)}

	// Publish Home Assistant discovery payloads if requested
	for _, d := range discoveryMessages(cfg, channels) {
		if err := publishJSON(client, d.topic, true, d.payload); err != nil {
			log.Warnw("mqtt discovery publish", "topic", d.topic, "error", err)
		}
	}

	return m, nil
}

func (m *MQTTOutput) Publish(s station.Snapshot) error {
	for _, ch := range s.Channels {
		topic := formatStateTopic(m.stateTopic, ch.Channel)
		if err := publishJSON(m.client, topic, false, channelPayload(ch)); err != nil {
			return fmt.Errorf("publish %s: %w", topic, err)
		}
	}
	return publishJSON(m.client, m.runTopic, true, runPayload(s))
}

func (m *MQTTOutput) Close() error {
	if m.client != nil {
		m.client.Disconnect(250)
	}
	return nil
}

func channelPayload(ch station.ChannelSnapshot) map[string]interface{} {
	return map[string]interface{}{
		"flow":    ch.Flow1s,
		"temp":    ch.Temp1s,
		"mean10":  ch.Mean10,
		"rms10":   ch.RMS10,
		"cv10":    ch.CV10,
		"ok":      ch.OK,
		"enabled": ch.Enabled,
	}
}

func runPayload(s station.Snapshot) map[string]interface{} {
	return map[string]interface{}{
		"recording": s.Recording,
		"csv_ready": s.CSVReady,
		"rows":      s.Rows,
		"session":   s.Session,
	}
}

func runTopic(cfg config.MQTTConfig) string {
	return cfg.ClientID + runTopicSuffix
}

// helper: format a state topic for a channel using an optional formatter
func formatStateTopic(base string, ch int) string {
	if base != "" {
		if strings.Contains(base, "%d") {
			return fmt.Sprintf(base, ch)
		}
		return fmt.Sprintf("%s/%d", strings.TrimSuffix(base, "/"), ch)
	}
	return fmt.Sprintf(perChannelTopicFmt, ch)
}

type discovery struct {
	topic   string
	payload map[string]interface{}
}

// discoveryMessages builds one flow and one temperature entity per enabled
// channel. DiscoveryTopic takes %d for the channel and %s for the quantity.
func discoveryMessages(cfg config.MQTTConfig, channels []config.ChannelConfig) []discovery {
	if cfg.DiscoveryTopic == "" {
		return nil
	}
	var out []discovery
	for i, ch := range channels {
		if !ch.Enabled {
			continue
		}
		num := i + 1
		state := formatStateTopic(cfg.StateTopic, num)
		for _, q := range []struct {
			kind, unit, class, tmpl string
		}{
			{"flow", unitFlow, "", valueTemplateFlow},
			{"temperature", unitCelsius, deviceClassTemperature, valueTemplateTemp},
		} {
			p := baseDiscoveryPayload(discoveryName(cfg, ch, num, q.kind), state, discoveryUniqueID(cfg, num, q.kind), q.unit, q.tmpl)
			if q.class != "" {
				p[keyDeviceClass] = q.class
			}
			out = append(out, discovery{topic: discoveryTopic(cfg.DiscoveryTopic, num, q.kind), payload: p})
		}
	}
	return out
}

func discoveryTopic(base string, ch int, kind string) string {
	t := base
	if strings.Contains(t, "%d") {
		t = strings.Replace(t, "%d", fmt.Sprint(ch), 1)
	} else {
		t = fmt.Sprintf("%s_%d", t, ch)
	}
	if strings.Contains(t, "%s") {
		return strings.Replace(t, "%s", kind, 1)
	}
	return t + "_" + kind
}

// helper: build a human-friendly discovery name
func discoveryName(cfg config.MQTTConfig, ch config.ChannelConfig, num int, kind string) string {
	name := cfg.DiscoveryName
	if name == "" {
		name = fmt.Sprintf("Flow sensor %s", cfg.ClientID)
	}
	label := ch.Name
	if label == "" {
		label = fmt.Sprintf("ch%d", num)
	}
	return fmt.Sprintf("%s %s %s", name, label, kind)
}

func discoveryUniqueID(cfg config.MQTTConfig, num int, kind string) string {
	uid := cfg.DiscoveryUniqueID
	if uid == "" {
		uid = cfg.ClientID
	}
	if uid == "" {
		return ""
	}
	return fmt.Sprintf("%s_%d_%s", uid, num, kind)
}

// helper: base discovery payload map common to all entries
func baseDiscoveryPayload(name, stateTopic, uniqueID, unit, tmpl string) map[string]interface{} {
	payload := map[string]interface{}{
		keyName:                name,
		keyStateTopic:          stateTopic,
		keyUnitOfMeasurement:   unit,
		keyStateClass:          stateClassMeasurement,
		keyValueTemplate:       tmpl,
		keyJSONAttributesTopic: stateTopic,
	}
	if uniqueID != "" {
		payload[keyUniqueID] = uniqueID
	}
	return payload
}

// helper: marshal and publish JSON payload
func publishJSON(client mqtt.Client, topic string, retained bool, payload map[string]interface{}) error {
	b, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	token := client.Publish(topic, 0, retained, b)
	token.Wait()
	return token.Error()
}
