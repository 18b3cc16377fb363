// Package publisher announces saved measurement records on an MQTT broker.
package publisher

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"go.uber.org/zap"

	"github.com/example/body-measure/internal/config"
	"github.com/example/body-measure/internal/logging"
	"github.com/example/body-measure/internal/measurement"
	"github.com/example/body-measure/internal/repository"
)

// ErrPublishTimeout is returned when the broker did not acknowledge in time.
var ErrPublishTimeout = errors.New("mqtt publish timed out")

const publishTimeout = 2 * time.Second

// Publisher announces saved records.
type Publisher interface {
	PublishRecord(ctx context.Context, record *repository.MeasurementRecord) error
	Close()
}

// RecordEvent is the JSON payload sent for a saved record.
type RecordEvent struct {
	RecordID     string             `json:"record_id"`
	SessionID    string             `json:"session_id"`
	UserID       string             `json:"user_id"`
	RecordedAt   int64              `json:"recorded_at"`
	UserHeightCM *float64           `json:"user_height_cm"`
	Measurements measurement.Result `json:"measurements"`
	Valid        bool               `json:"valid"`
	Warnings     []string           `json:"warnings"`
}

// NewRecordEvent builds the payload for record.
func NewRecordEvent(record *repository.MeasurementRecord) RecordEvent {
	warnings := record.WarningList()
	if warnings == nil {
		warnings = []string{}
	}
	return RecordEvent{
		RecordID:     record.RecordID,
		SessionID:    record.SessionID,
		UserID:       record.UserID,
		RecordedAt:   record.RecordedAt.Unix(),
		UserHeightCM: record.UserHeightCM,
		Measurements: record.Result(),
		Valid:        record.Valid,
		Warnings:     warnings,
	}
}

type client interface {
	Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token
	Disconnect(quiesce uint)
}

// MQTTPublisher publishes record events to a fixed topic.
type MQTTPublisher struct {
	client client
	topic  string
	qos    byte
	logger *zap.Logger
}

// Connect opens a connection to the configured broker.
func Connect(cfg config.MQTTConfig, logger *zap.Logger) (*MQTTPublisher, error) {
	logger = logger.Named("mqtt_publisher")

	opts := mqtt.NewClientOptions()
	opts.AddBroker(cfg.Broker)
	clientID := cfg.ClientID
	if clientID == "" {
		clientID = fmt.Sprintf("body-measure-%d", time.Now().Unix())
	}
	opts.SetClientID(clientID)
	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
		opts.SetPassword(cfg.Password)
	}
	opts.SetAutoReconnect(true)
	opts.SetCleanSession(true)
	opts.OnConnect = func(mqtt.Client) {
		logger.Info("connected to mqtt broker", zap.String("broker", cfg.Broker))
	}
	opts.OnConnectionLost = func(_ mqtt.Client, err error) {
		logger.Warn("mqtt connection lost", zap.Error(err))
	}

	c := mqtt.NewClient(opts)
	if token := c.Connect(); token.Wait() && token.Error() != nil {
		return nil, logging.NewOperationError("publisher.connect", "", token.Error())
	}
	return newMQTTPublisher(c, cfg.Topic, byte(cfg.QoS), logger), nil
}

func newMQTTPublisher(c client, topic string, qos byte, logger *zap.Logger) *MQTTPublisher {
	return &MQTTPublisher{client: c, topic: topic, qos: qos, logger: logger}
}

// PublishRecord sends the record event and waits for the broker.
func (p *MQTTPublisher) PublishRecord(ctx context.Context, record *repository.MeasurementRecord) error {
	payload, err := json.Marshal(NewRecordEvent(record))
	if err != nil {
		return logging.NewOperationError("publisher.marshal_record", record.SessionID, err)
	}

	timeout := publishTimeout
	if deadline, ok := ctx.Deadline(); ok {
		if remaining := time.Until(deadline); remaining < timeout {
			timeout = remaining
		}
	}

	token := p.client.Publish(p.topic, p.qos, false, payload)
	if !token.WaitTimeout(timeout) {
		return logging.NewOperationError("publisher.publish_record", record.SessionID, ErrPublishTimeout)
	}
	if err := token.Error(); err != nil {
		return logging.NewOperationError("publisher.publish_record", record.SessionID, err)
	}
	p.logger.Debug("record published",
		zap.String("topic", p.topic),
		zap.String("record_id", record.RecordID),
		zap.String("session_id", record.SessionID),
	)
	return nil
}

// Close disconnects from the broker.
func (p *MQTTPublisher) Close() {
	p.client.Disconnect(250)
}

// Nop discards every record. It is used when no broker is configured.
type Nop struct{}

func (Nop) PublishRecord(context.Context, *repository.MeasurementRecord) error { return nil }
func (Nop) Close()                                                            {}
