package queue

import (
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// MessageQueue defines the interface for a message queue adapter
type MessageQueue interface {
	Publish(subject string, data []byte) error
	Subscribe(subject string, handler func(data []byte) error) error
	Close() error
}

const (
	SubjectTransactionCompleted = "transaction.completed"
	SubjectChargerStatus        = "charger.status"
)

// Event is the envelope every published message uses.
type Event struct {
	Type       string      `json:"type"`
	ChargerID  string      `json:"charger_id"`
	OccurredAt time.Time   `json:"occurred_at"`
	Data       interface{} `json:"data,omitempty"`
}

func PublishEvent(q MessageQueue, subject string, ev Event) error {
	if ev.OccurredAt.IsZero() {
		ev.OccurredAt = time.Now().UTC()
	}
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("failed to encode %s event: %w", subject, err)
	}
	return q.Publish(subject, data)
}

// Config selects and configures the broker.
type Config struct {
	Driver           string // none, nats, rabbitmq, kafka
	NATSURL          string
	RabbitMQURL      string
	KafkaBrokers     []string
	KafkaTopicPrefix string
	KafkaGroupID     string
}

// New connects to the configured broker. Driver "none" (or empty) keeps
// events inside the process.
func New(cfg Config, log *zap.Logger) (MessageQueue, error) {
	switch cfg.Driver {
	case "", "none":
		return NewMemoryQueue(log), nil
	case "nats":
		return NewNATSQueue(cfg.NATSURL, log)
	case "rabbitmq":
		return NewRabbitMQQueue(cfg.RabbitMQURL, log)
	case "kafka":
		return NewKafkaQueue(cfg.KafkaBrokers, cfg.KafkaTopicPrefix, cfg.KafkaGroupID, log)
	}
	return nil, fmt.Errorf("unknown queue driver %q", cfg.Driver)
}
