package relay

import (
	"context"
	"encoding/json"
	"log"
	"time"

	"github.com/segmentio/kafka-go"
)

// messageWriter is the part of *kafka.Writer the relay uses.
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Kafka writes a PollEvent keyed by account after every poll.
type Kafka struct {
	w       messageWriter
	account string
	src     Source
	timeout time.Duration
}

func NewKafka(brokers []string, topic, account string, src Source) *Kafka {
	if topic == "" {
		topic = "parcelwatch.poll"
	}
	w := &kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Topic:                  topic,
		Balancer:               &kafka.Hash{},
		RequiredAcks:           kafka.RequireOne,
		AllowAutoTopicCreation: true,
	}
	return &Kafka{w: w, account: account, src: src, timeout: 5 * time.Second}
}

func (k *Kafka) Notify() {
	ctx, cancel := context.WithTimeout(context.Background(), k.timeout)
	defer cancel()
	evt := NewEvent(k.account, k.src)
	data, _ := json.Marshal(evt)
	msg := kafka.Message{
		Key:     []byte(k.account),
		Value:   data,
		Headers: []kafka.Header{{Key: "type", Value: []byte(evt.Type)}},
	}
	if err := k.w.WriteMessages(ctx, msg); err != nil {
		log.Printf("relay: kafka write err=%v", err)
	}
}

func (k *Kafka) Close() error { return k.w.Close() }
