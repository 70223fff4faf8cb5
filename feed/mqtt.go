package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/sirupsen/logrus"

	"trip-coordinator/config"
	"trip-coordinator/models"
)

// locationPayload is the JSON body published on drivers/{driverId}/location.
type locationPayload struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
	Timestamp int64   `json:"timestamp,omitempty"`
}

// MQTTFeed bridges broker-published device locations into the ingestor.
type MQTTFeed struct {
	cfg    config.MQTTConfig
	ingest *Ingestor
	log    *logrus.Entry
	client mqtt.Client
}

func NewMQTTFeed(cfg config.MQTTConfig, ingest *Ingestor, log *logrus.Entry) *MQTTFeed {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &MQTTFeed{cfg: cfg, ingest: ingest, log: log}
}

// Start connects to the broker and subscribes to the location topic.
func (f *MQTTFeed) Start(ctx context.Context) error {
	opts := mqtt.NewClientOptions().
		AddBroker(f.cfg.Broker).
		SetClientID(f.cfg.ClientID).
		SetAutoReconnect(true).
		SetConnectTimeout(10 * time.Second)

	f.client = mqtt.NewClient(opts)
	if token := f.client.Connect(); token.Wait() && token.Error() != nil {
		return fmt.Errorf("mqtt connect: %w", token.Error())
	}

	handler := func(_ mqtt.Client, msg mqtt.Message) {
		f.handleMessage(ctx, msg.Topic(), msg.Payload())
	}
	if token := f.client.Subscribe(f.cfg.Topic, 1, handler); token.Wait() && token.Error() != nil {
		return fmt.Errorf("mqtt subscribe %s: %w", f.cfg.Topic, token.Error())
	}
	f.log.WithFields(logrus.Fields{"broker": f.cfg.Broker, "topic": f.cfg.Topic}).Info("location feed connected")
	return nil
}

// Stop disconnects from the broker.
func (f *MQTTFeed) Stop() {
	if f.client != nil && f.client.IsConnected() {
		f.client.Disconnect(250)
	}
}

func (f *MQTTFeed) handleMessage(ctx context.Context, topic string, payload []byte) {
	driverUID, ok := driverFromTopic(topic)
	if !ok {
		f.log.WithField("topic", topic).Debug("ignoring message on unexpected topic")
		return
	}
	var p locationPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		f.log.WithField("topic", topic).Debug("ignoring malformed location payload")
		return
	}
	at := time.Now()
	if p.Timestamp > 0 {
		at = time.Unix(p.Timestamp, 0)
	}
	loc := models.Coordinate{Latitude: p.Latitude, Longitude: p.Longitude}
	_ = f.ingest.Publish(ctx, driverUID, loc, at)
}

// driverFromTopic extracts the driver id from drivers/{driverId}/location.
func driverFromTopic(topic string) (string, bool) {
	parts := strings.Split(topic, "/")
	if len(parts) != 3 || parts[0] != "drivers" || parts[2] != "location" || parts[1] == "" {
		return "", false
	}
	return parts[1], true
}
