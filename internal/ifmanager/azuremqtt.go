package ifmanager

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/rs/zerolog/log"

	"github.com/lorawan-server/floranet-ns/internal/models"
)

// AzureMQTT forwards decrypted uplinks to an Azure IoT Hub MQTT topic
// and subscribes for inbound cloud-to-device commands, which it feeds
// back into the engine via InboundFunc. Grounded on
// floranet/appserver/azure_iot_mqtt.py's two-way shape.
type AzureMQTT struct {
	id       string
	broker   string
	topic    string
	username string
	password string

	client  mqtt.Client
	inbound InboundFunc
}

func NewAzureMQTT(id, broker, topic, username, password string) *AzureMQTT {
	return &AzureMQTT{id: id, broker: broker, topic: topic, username: username, password: password}
}

func (a *AzureMQTT) ID() string { return a.id }

func (a *AzureMQTT) Start(inbound InboundFunc) error {
	a.inbound = inbound
	opts := mqtt.NewClientOptions().
		AddBroker(a.broker).
		SetClientID(fmt.Sprintf("floranet-ns-%s", a.id)).
		SetUsername(a.username).
		SetPassword(a.password).
		SetAutoReconnect(true)
	opts.SetDefaultPublishHandler(a.onMessage)
	a.client = mqtt.NewClient(opts)
	tok := a.client.Connect()
	if !tok.WaitTimeout(10 * time.Second) {
		return fmt.Errorf("ifmanager: azure_mqtt connect to %s timed out", a.broker)
	}
	if err := tok.Error(); err != nil {
		return fmt.Errorf("ifmanager: azure_mqtt connect: %w", err)
	}
	if t := a.client.Subscribe(a.topic+"/downlink", 1, nil); t.Wait() && t.Error() != nil {
		return fmt.Errorf("ifmanager: azure_mqtt subscribe: %w", t.Error())
	}
	return nil
}

func (a *AzureMQTT) Stop() {
	if a.client != nil && a.client.IsConnected() {
		a.client.Disconnect(250)
	}
}

func (a *AzureMQTT) Valid() (bool, []string) {
	var errs []string
	if a.broker == "" {
		errs = append(errs, "mqtt broker is empty")
	}
	if a.topic == "" {
		errs = append(errs, "mqtt topic is empty")
	}
	return len(errs) == 0, errs
}

type mqttInbound struct {
	DevAddr uint32 `json:"devaddr"`
	Data    string `json:"data"` // base64
	Ack     bool   `json:"ack"`
}

func (a *AzureMQTT) onMessage(_ mqtt.Client, msg mqtt.Message) {
	var in mqttInbound
	if err := json.Unmarshal(msg.Payload(), &in); err != nil {
		log.Error().Err(err).Str("adapter", a.id).Msg("azure_mqtt: malformed inbound message")
		return
	}
	data, err := base64.StdEncoding.DecodeString(in.Data)
	if err != nil {
		log.Error().Err(err).Str("adapter", a.id).Msg("azure_mqtt: invalid base64 payload")
		return
	}
	if a.inbound == nil {
		return
	}
	if err := a.inbound(in.DevAddr, data, in.Ack); err != nil {
		log.Error().Err(err).Str("adapter", a.id).Msg("azure_mqtt: inbound delivery failed")
	}
}

func (a *AzureMQTT) NetServerReceived(device *models.Device, app *models.Application, port uint8, data []byte) {
	if a.client == nil || !a.client.IsConnected() {
		log.Error().Str("adapter", a.id).Msg("azure_mqtt: not connected, dropping uplink")
		return
	}
	payload, err := json.Marshal(map[string]interface{}{
		"deveui": fmt.Sprintf("%x", device.DevEUI),
		"port":   port,
		"data":   base64.StdEncoding.EncodeToString(data),
	})
	if err != nil {
		return
	}
	tok := a.client.Publish(a.topic+"/uplink", 1, false, payload)
	tok.WaitTimeout(5 * time.Second)
}

func (a *AzureMQTT) Marshal() map[string]interface{} {
	return map[string]interface{}{"id": a.id, "kind": "azure_mqtt", "broker": a.broker, "topic": a.topic}
}
