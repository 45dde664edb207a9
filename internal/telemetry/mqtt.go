package telemetry

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/sirupsen/logrus"
)

const DefaultTopicPrefix = "tags"

// Subscriber feeds MQTT position reports into an Ingestor. Reports arrive
// on <prefix>/<device id>/position.
type Subscriber struct {
	client   mqtt.Client
	ingestor *Ingestor
	prefix   string
}

// Connect dials the broker and subscribes. The subscription is renewed on
// every reconnect.
func Connect(brokerURL, clientID, prefix string, ingestor *Ingestor) (*Subscriber, error) {
	if prefix == "" {
		prefix = DefaultTopicPrefix
	}
	s := &Subscriber{ingestor: ingestor, prefix: strings.TrimSuffix(prefix, "/")}

	url := strings.TrimSpace(brokerURL)
	if strings.HasPrefix(url, "mqtt://") {
		url = "tcp://" + strings.TrimPrefix(url, "mqtt://")
	}
	if strings.TrimSpace(clientID) == "" {
		clientID = "tag-tracker-" + time.Now().Format("150405.000")
	}

	opts := mqtt.NewClientOptions()
	opts.AddBroker(url)
	opts.SetClientID(clientID)
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(2 * time.Second)
	opts.SetKeepAlive(30 * time.Second)
	opts.SetPingTimeout(10 * time.Second)
	opts.OnConnectionLost = func(_ mqtt.Client, err error) {
		logrus.WithError(err).Warn("MQTT connection lost.")
	}
	opts.OnConnect = func(c mqtt.Client) {
		tok := c.Subscribe(s.Topic(), 1, s.handle)
		tok.Wait()
		if err := tok.Error(); err != nil {
			logrus.WithError(err).WithField("topic", s.Topic()).Error("MQTT subscribe failed.")
			return
		}
		logrus.WithField("topic", s.Topic()).Info("MQTT telemetry subscription established.")
	}

	s.client = mqtt.NewClient(opts)
	tok := s.client.Connect()
	if ok := tok.WaitTimeout(15 * time.Second); !ok {
		return nil, tok.Error()
	}
	if err := tok.Error(); err != nil {
		return nil, err
	}
	return s, nil
}

// Topic is the wildcard subscription topic.
func (s *Subscriber) Topic() string {
	return s.prefix + "/+/position"
}

func (s *Subscriber) handle(_ mqtt.Client, msg mqtt.Message) {
	s.Handle(msg.Topic(), msg.Payload())
}

// Handle decodes one message and records it. The device id in the topic
// wins over any id in the payload.
func (s *Subscriber) Handle(topic string, payload []byte) {
	id, ok := deviceFromTopic(s.prefix, topic)
	if !ok {
		logrus.WithField("topic", topic).Warn("Ignoring telemetry on unexpected topic.")
		return
	}
	var r Report
	if err := json.Unmarshal(payload, &r); err != nil {
		logrus.WithError(err).WithFields(logrus.Fields{
			"topic":   topic,
			"payload": string(payload),
		}).Warn("Failed to decode MQTT telemetry.")
		return
	}
	r.DeviceID = id

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if _, err := s.ingestor.Record(ctx, SourceMQTT, r); err != nil {
		logrus.WithError(err).WithField("device_id", id).Warn("Failed to record MQTT telemetry.")
	}
}

func deviceFromTopic(prefix, topic string) (string, bool) {
	rest, ok := strings.CutPrefix(topic, prefix+"/")
	if !ok {
		return "", false
	}
	id, ok := strings.CutSuffix(rest, "/position")
	if !ok || id == "" || strings.Contains(id, "/") {
		return "", false
	}
	return id, true
}

func (s *Subscriber) Close() {
	if s == nil || s.client == nil {
		return
	}
	s.client.Disconnect(1000)
}
