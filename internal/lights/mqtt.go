package lights

import (
	"fmt"
	"log"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

const (
	payloadOn  = "ON"
	payloadOff = "OFF"

	connectTimeout = 10 * time.Second
)

// TopicBinding maps a light name to its MQTT topics. CommandTopic receives
// ON/OFF payloads; StateTopic, if set, carries the switch's reported state.
type TopicBinding struct {
	CommandTopic string
	StateTopic   string
}

// MQTTConfig configures the broker connection and the light topology.
type MQTTConfig struct {
	BrokerURL string
	ClientID  string
	Username  string
	Password  string
	Lights    map[string]TopicBinding
}

// MQTTDriver switches lights by publishing to per-light command topics.
// Switch calls are fire-and-forget: publish errors are logged, not returned,
// so a slow broker cannot stall the event loop. Connection loss is the only
// error surfaced to callers.
type MQTTDriver struct {
	client mqtt.Client
	lights map[string]TopicBinding

	mu    sync.RWMutex
	state map[string]bool // last reported state per light
}

func NewMQTTDriver(cfg MQTTConfig) (*MQTTDriver, error) {
	if cfg.BrokerURL == "" {
		return nil, fmt.Errorf("mqtt: broker URL required")
	}
	if cfg.ClientID == "" {
		cfg.ClientID = "ts-presence"
	}

	d := &MQTTDriver{
		lights: cfg.Lights,
		state:  make(map[string]bool),
	}

	opts := mqtt.NewClientOptions().
		AddBroker(cfg.BrokerURL).
		SetClientID(cfg.ClientID).
		SetAutoReconnect(true).
		SetConnectionLostHandler(func(_ mqtt.Client, err error) {
			log.Printf("[WARN] MQTT connection lost: %v", err)
		}).
		SetOnConnectHandler(func(c mqtt.Client) {
			d.subscribeStates(c)
		})
	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
		opts.SetPassword(cfg.Password)
	}

	d.client = mqtt.NewClient(opts)
	token := d.client.Connect()
	if !token.WaitTimeout(connectTimeout) {
		return nil, fmt.Errorf("mqtt: connect to %s timed out", cfg.BrokerURL)
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("mqtt: connect to %s: %w", cfg.BrokerURL, err)
	}

	return d, nil
}

// subscribeStates runs on every (re)connect so state subscriptions survive
// broker restarts.
func (d *MQTTDriver) subscribeStates(c mqtt.Client) {
	for name, binding := range d.lights {
		if binding.StateTopic == "" {
			continue
		}
		light := name
		token := c.Subscribe(binding.StateTopic, 1, func(_ mqtt.Client, msg mqtt.Message) {
			d.mu.Lock()
			d.state[light] = string(msg.Payload()) == payloadOn
			d.mu.Unlock()
		})
		go func(topic string) {
			if token.Wait(); token.Error() != nil {
				log.Printf("[ERROR] MQTT subscribe %s: %v", topic, token.Error())
			}
		}(binding.StateTopic)
	}
}

func (d *MQTTDriver) TurnOn(light string) error {
	return d.publish(light, payloadOn)
}

func (d *MQTTDriver) TurnOff(light string) error {
	return d.publish(light, payloadOff)
}

func (d *MQTTDriver) publish(light, payload string) error {
	binding, ok := d.lights[light]
	if !ok {
		return fmt.Errorf("mqtt: unknown light %q", light)
	}
	if !d.client.IsConnectionOpen() {
		return fmt.Errorf("mqtt: not connected, cannot switch %q", light)
	}
	token := d.client.Publish(binding.CommandTopic, 1, false, payload)
	go func() {
		if token.Wait(); token.Error() != nil {
			log.Printf("[ERROR] MQTT publish %s %s: %v", binding.CommandTopic, payload, token.Error())
		}
	}()
	return nil
}

// GetStatus returns the last state reported on the light's state topic.
// Lights without a state topic, or that have not reported yet, are unknown.
func (d *MQTTDriver) GetStatus(light string) (bool, error) {
	if _, ok := d.lights[light]; !ok {
		return false, fmt.Errorf("mqtt: unknown light %q", light)
	}
	d.mu.RLock()
	defer d.mu.RUnlock()
	on, ok := d.state[light]
	if !ok {
		return false, fmt.Errorf("mqtt: no reported state for %q", light)
	}
	return on, nil
}

func (d *MQTTDriver) Close() {
	d.client.Disconnect(250)
}
