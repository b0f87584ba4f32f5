// Package telemetry publishes read-only observability to MQTT: the current
// Mode and badge-scan events, plus Home Assistant discovery documents. It
// never feeds back into internal/core — a broker outage or a publish
// failure is logged and otherwise ignored. Grounded on gauthbox's
// MqttBroker/MqttDiscovery (lib.go), with the teacher's bare hostname
// replaced by a stable per-device machine ID.
package telemetry

import (
	"encoding/json"
	"log/slog"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/denisbrodbeck/machineid"

	"tinkeraccess/internal/core"
)

const topicPrefix = "tinkeraccess/"
const haDiscoveryPrefix = "homeassistant/"

// haDevice is the common "device" block every Home Assistant discovery
// document references, matching gauthbox's MqttDevice.
type haDevice struct {
	Name         string `json:"name"`
	SerialNumber string `json:"serial_number"`
}

type haModeSensor struct {
	Name        string   `json:"name"`
	UniqueID    string   `json:"unique_id"`
	StateTopic  string   `json:"state_topic"`
	Device      haDevice `json:"device"`
}

// Publisher owns the MQTT client and the machine identity used as both the
// client ID and the Home Assistant device serial number.
type Publisher struct {
	client     mqtt.Client
	log        *slog.Logger
	name       string
	machineID  string
}

// NewPublisher connects to broker and registers Home Assistant discovery for
// the Mode sensor. A connection failure is returned to the caller, who
// decides whether telemetry is mandatory for this deployment (it is not,
// per SPEC_FULL.md's ambient-observability scope).
func NewPublisher(broker, name string, log *slog.Logger) (*Publisher, error) {
	id, err := machineid.ProtectedID("tinkeraccess")
	if err != nil {
		id = name // fall back to hostname if the platform has no machine-id
	}

	opts := mqtt.NewClientOptions()
	opts.AddBroker(broker)
	opts.SetClientID("tinkeraccess-" + id)
	opts.SetConnectRetryInterval(2 * time.Second)
	opts.SetAutoReconnect(true)

	p := &Publisher{log: log, name: name, machineID: id}
	opts.SetOnConnectHandler(func(c mqtt.Client) {
		p.log.Info("telemetry: connected to mqtt broker")
		p.publishDiscovery(c)
	})
	opts.SetConnectionLostHandler(func(c mqtt.Client, err error) {
		p.log.Warn("telemetry: mqtt connection lost", slog.Any("error", err))
	})

	p.client = mqtt.NewClient(opts)
	if t := p.client.Connect(); t.Wait() && t.Error() != nil {
		return nil, t.Error()
	}
	return p, nil
}

func (p *Publisher) publishDiscovery(c mqtt.Client) {
	sensor := haModeSensor{
		Name:       "TinkerAccess Mode",
		UniqueID:   "tinkeraccess_" + p.machineID + "_mode",
		StateTopic: topicPrefix + p.name + "/mode",
		Device: haDevice{
			Name:         "TinkerAccess " + p.name,
			SerialNumber: p.machineID,
		},
	}
	payload, err := json.Marshal(sensor)
	if err != nil {
		return
	}
	topic := haDiscoveryPrefix + "sensor/tinkeraccess_" + p.machineID + "/mode/config"
	if t := c.Publish(topic, 0, true, payload); t.Wait() && t.Error() != nil {
		p.log.Warn("telemetry: publishing ha discovery", slog.Any("error", t.Error()))
	}
}

// PublishMode is wired as a core.Controller.OnTransition observer.
func (p *Publisher) PublishMode(mode core.Mode) {
	p.publish(topicPrefix+p.name+"/mode", mode.StatusFileValue())
}

// PublishBadgeScan reports a raw badge scan for shop-floor dashboards,
// independent of whether the login it triggered succeeded. Wired as a
// core.Controller.OnBadgeScan observer.
func (p *Publisher) PublishBadgeScan(badgeCode string) {
	p.publish(topicPrefix+p.name+"/badged", badgeCode)
}

func (p *Publisher) publish(topic, payload string) {
	if t := p.client.Publish(topic, 0, false, payload); t.Wait() && t.Error() != nil {
		p.log.Warn("telemetry: publish failed", slog.String("topic", topic), slog.Any("error", t.Error()))
	}
}

// Close disconnects from the broker.
func (p *Publisher) Close() {
	p.client.Disconnect(250)
}
