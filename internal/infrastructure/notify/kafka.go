package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/IBM/sarama"
	"go.uber.org/zap"

	"transaction-reconciler/internal/config"
	"transaction-reconciler/internal/domain"
)

// Kafka publishes notifications as JSON envelopes keyed by the aggregate id,
// so every notification of one order lands on the same partition.
type Kafka struct {
	producer sarama.SyncProducer
	topic    string
	log      *zap.Logger
	now      func() time.Time
}

func NewKafka(producer sarama.SyncProducer, topic string, log *zap.Logger) *Kafka {
	return &Kafka{producer: producer, topic: topic, log: log, now: time.Now}
}

// NewSyncProducer builds a producer that waits for all in-sync replicas.
func NewSyncProducer(cfg config.KafkaConfig) (sarama.SyncProducer, error) {
	sc := sarama.NewConfig()
	sc.ClientID = cfg.ClientID
	sc.Producer.RequiredAcks = sarama.WaitForAll
	sc.Producer.Retry.Max = 5
	sc.Producer.Return.Successes = true
	sc.Producer.Partitioner = sarama.NewHashPartitioner

	producer, err := sarama.NewSyncProducer(cfg.Brokers, sc)
	if err != nil {
		return nil, fmt.Errorf("kafka producer: %w", err)
	}
	return producer, nil
}

func (k *Kafka) Dispatch(_ context.Context, name Name, aggregate domain.Aggregate, triggered Triggered) error {
	if triggered.Has(name) {
		return nil
	}
	env := NewEnvelope(name, aggregate, k.now())
	b, err := json.Marshal(env)
	if err != nil {
		return err
	}

	msg := &sarama.ProducerMessage{
		Topic: k.topic,
		Key:   sarama.StringEncoder(env.OwnerID),
		Value: sarama.ByteEncoder(b),
		Headers: []sarama.RecordHeader{
			{Key: []byte("notification"), Value: []byte(name)},
		},
	}
	partition, offset, err := k.producer.SendMessage(msg)
	if err != nil {
		return fmt.Errorf("publish %s for %s: %w", name, aggregate.OwnerRef(), err)
	}
	triggered.Add(name)

	k.log.Debug("notification published",
		zap.String("name", string(name)),
		zap.Stringer("owner", aggregate.OwnerRef()),
		zap.Int32("partition", partition),
		zap.Int64("offset", offset),
	)
	return nil
}
