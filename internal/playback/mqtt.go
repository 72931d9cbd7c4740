package playback

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/rs/zerolog/log"
)

const publishTimeout = 5 * time.Second

// Command is the payload sent to remote speakers.
type Command struct {
	Action string    `json:"action"` // play | stop
	Prayer string    `json:"prayer,omitempty"`
	SentAt time.Time `json:"sent_at"`
}

// MQTTSpeaker publishes play/stop commands for speakers subscribed to topic.
type MQTTSpeaker struct {
	client mqtt.Client
	topic  string
	now    func() time.Time
}

func ConnectMQTT(brokerURL, clientID string) (mqtt.Client, error) {
	opts := mqtt.NewClientOptions()
	opts.AddBroker(brokerURL)
	opts.SetClientID(clientID)
	opts.SetAutoReconnect(true)
	opts.SetConnectTimeout(10 * time.Second)
	opts.OnConnect = func(mqtt.Client) {
		log.Info().Str("component", "mqtt").Str("broker", brokerURL).Msg("connected to broker")
	}
	opts.OnConnectionLost = func(_ mqtt.Client, err error) {
		log.Warn().Err(err).Str("component", "mqtt").Msg("connection lost")
	}

	client := mqtt.NewClient(opts)
	if token := client.Connect(); token.Wait() && token.Error() != nil {
		return nil, fmt.Errorf("connect to MQTT broker: %w", token.Error())
	}
	return client, nil
}

func NewMQTTSpeaker(client mqtt.Client, topic string) *MQTTSpeaker {
	return &MQTTSpeaker{client: client, topic: topic, now: time.Now}
}

func (s *MQTTSpeaker) publish(cmd Command) error {
	payload, err := json.Marshal(cmd)
	if err != nil {
		return err
	}
	token := s.client.Publish(s.topic, 1, false, payload)
	if !token.WaitTimeout(publishTimeout) {
		return fmt.Errorf("publish to %s timed out", s.topic)
	}
	return token.Error()
}

func (s *MQTTSpeaker) Start(_ context.Context, prayer string) bool {
	if err := s.publish(Command{Action: "play", Prayer: prayer, SentAt: s.now()}); err != nil {
		log.Error().Err(err).Str("component", "playback").Str("output", "mqtt").Str("prayer", prayer).Msg("publish play")
		return false
	}
	log.Info().Str("component", "playback").Str("output", "mqtt").Str("topic", s.topic).Str("prayer", prayer).Msg("azan sent to speakers")
	return true
}

func (s *MQTTSpeaker) Stop(context.Context) {
	if err := s.publish(Command{Action: "stop", SentAt: s.now()}); err != nil {
		log.Error().Err(err).Str("component", "playback").Str("output", "mqtt").Msg("publish stop")
	}
}

func (s *MQTTSpeaker) Close() {
	s.client.Disconnect(250)
}
