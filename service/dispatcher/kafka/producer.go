package kafka

import (
	"encoding/json"
	"time"

	"github.com/Shopify/sarama"
	"github.com/pkg/errors"

	"github.com/SpheneDev/SpheneServer/logger"
)

// TopicFileAvailable carries file-availability events for downstream
// file servers. Keyed by recipient uid so one user's events stay on
// one partition, in order.
const TopicFileAvailable = "file_available"

// FileAvailableEvent tells the file service that Recipient may now
// download the files behind Hashes for a data push session.
type FileAvailableEvent struct {
	RecipientUID string    `json:"recipientUid"`
	SenderUID    string    `json:"senderUid"`
	SessionID    string    `json:"sessionId"`
	Hashes       []string  `json:"hashes"`
	SentAt       time.Time `json:"sentAt"`
}

// Producer publishes file events to Kafka synchronously; a push that
// cannot record its file events fails loudly rather than leaving the
// recipient without downloads.
type Producer struct {
	prod sarama.SyncProducer
}

func buildConfig() *sarama.Config {
	cfg := sarama.NewConfig()
	cfg.Producer.Return.Successes = true
	cfg.Producer.Return.Errors = true
	cfg.Producer.RequiredAcks = sarama.WaitForAll
	cfg.Producer.Retry.Max = 3
	cfg.Producer.Partitioner = sarama.NewHashPartitioner // key controls partition
	cfg.Net.DialTimeout = 10 * time.Second
	cfg.Net.ReadTimeout = 30 * time.Second
	cfg.Net.WriteTimeout = 30 * time.Second
	return cfg
}

func NewProducer(brokers []string) (*Producer, error) {
	p, err := sarama.NewSyncProducer(brokers, buildConfig())
	if err != nil {
		return nil, errors.Wrap(err, "dispatcher: kafka producer")
	}
	return &Producer{prod: p}, nil
}

func (p *Producer) NotifyFileAvailable(ev FileAvailableEvent) error {
	if ev.SentAt.IsZero() {
		ev.SentAt = time.Now().UTC()
	}
	data, err := json.Marshal(ev)
	if err != nil {
		return errors.Wrap(err, "dispatcher: marshal event")
	}
	msg := &sarama.ProducerMessage{
		Topic: TopicFileAvailable,
		Key:   sarama.StringEncoder(ev.RecipientUID),
		Value: sarama.ByteEncoder(data),
	}
	partition, offset, err := p.prod.SendMessage(msg)
	if err != nil {
		return errors.Wrapf(err, "dispatcher: send to %s", TopicFileAvailable)
	}
	logger.Debugf("[dispatcher] file event for %s at %d/%d", ev.RecipientUID, partition, offset)
	return nil
}

func (p *Producer) Close() {
	if err := p.prod.Close(); err != nil {
		logger.Warnf("[dispatcher] close producer: %v", err)
	}
}
