package queue

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

const kafkaWriteTimeout = 5 * time.Second

// KafkaQueue maps subjects to topics under a common prefix. Messages are
// keyed by subject so each subject keeps its order within a partition.
type KafkaQueue struct {
	writer  *kafka.Writer
	brokers []string
	prefix  string
	groupID string
	log     *zap.Logger

	mu      sync.Mutex
	readers []*kafka.Reader
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

func NewKafkaQueue(brokers []string, topicPrefix, groupID string, log *zap.Logger) (MessageQueue, error) {
	if len(brokers) == 0 {
		return nil, errors.New("kafka: no brokers configured")
	}
	if groupID == "" {
		groupID = "ocpp-csms"
	}

	ctx, cancel := context.WithCancel(context.Background())
	q := &KafkaQueue{
		writer: &kafka.Writer{
			Addr:                   kafka.TCP(brokers...),
			Balancer:               &kafka.Hash{},
			BatchTimeout:           10 * time.Millisecond,
			RequiredAcks:           kafka.RequireOne,
			AllowAutoTopicCreation: true,
		},
		brokers: brokers,
		prefix:  topicPrefix,
		groupID: groupID,
		log:     log,
		ctx:     ctx,
		cancel:  cancel,
	}

	log.Info("Kafka producer configured", zap.Strings("brokers", brokers), zap.String("topic_prefix", topicPrefix))
	return q, nil
}

func (q *KafkaQueue) topic(subject string) string {
	return q.prefix + subject
}

func (q *KafkaQueue) Publish(subject string, data []byte) error {
	ctx, cancel := context.WithTimeout(q.ctx, kafkaWriteTimeout)
	defer cancel()

	err := q.writer.WriteMessages(ctx, kafka.Message{
		Topic: q.topic(subject),
		Key:   []byte(subject),
		Value: data,
		Time:  time.Now(),
	})
	if err != nil {
		return fmt.Errorf("kafka: publish %s: %w", subject, err)
	}
	return nil
}

func (q *KafkaQueue) Subscribe(subject string, handler func(data []byte) error) error {
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers: q.brokers,
		GroupID: q.groupID,
		Topic:   q.topic(subject),
		MaxWait: 500 * time.Millisecond,
	})

	q.mu.Lock()
	q.readers = append(q.readers, reader)
	q.mu.Unlock()

	q.wg.Add(1)
	go func() {
		defer q.wg.Done()
		for {
			msg, err := reader.ReadMessage(q.ctx)
			if err != nil {
				if q.ctx.Err() == nil {
					q.log.Error("Kafka read failed", zap.String("topic", reader.Config().Topic), zap.Error(err))
				}
				return
			}
			if err := handler(msg.Value); err != nil {
				q.log.Error("Error processing Kafka message",
					zap.String("topic", msg.Topic),
					zap.Int64("offset", msg.Offset),
					zap.Error(err),
				)
			}
		}
	}()

	q.log.Info("Subscribed to Kafka topic", zap.String("topic", q.topic(subject)))
	return nil
}

func (q *KafkaQueue) Close() error {
	q.cancel()

	q.mu.Lock()
	readers := q.readers
	q.readers = nil
	q.mu.Unlock()

	var errs []error
	for _, r := range readers {
		errs = append(errs, r.Close())
	}
	q.wg.Wait()
	errs = append(errs, q.writer.Close())
	return errors.Join(errs...)
}
