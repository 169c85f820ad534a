package events

import (
	"context"
	"encoding/json"
	"time"

	"promohive/pkg/config"

	"github.com/segmentio/kafka-go"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("events",
	fx.Provide(NewPublisher),
)

// LedgerEntrySettled is emitted once per ledger entry that reached a terminal status.
type LedgerEntrySettled struct {
	EntryID       string    `json:"entry_id"`
	AccountID     string    `json:"account_id"`
	Kind          string    `json:"kind"`
	Direction     string    `json:"direction"`
	Status        string    `json:"status"`
	Amount        int64     `json:"amount"`
	TransactionID string    `json:"transaction_id"`
	SettledAt     time.Time `json:"settled_at"`
}

type Publisher interface {
	Publish(ctx context.Context, key string, event any) error
}

type KafkaPublisher struct {
	writer *kafka.Writer
}

// NewPublisher returns a Kafka publisher, or a no-op one when no brokers are configured.
func NewPublisher(lc fx.Lifecycle, cfg *config.Config) Publisher {
	if len(cfg.Kafka.Brokers) == 0 {
		zap.L().Warn("[Kafka] no brokers configured, ledger events will be dropped")
		return NopPublisher{}
	}

	p := &KafkaPublisher{
		writer: &kafka.Writer{
			Addr:         kafka.TCP(cfg.Kafka.Brokers...),
			Topic:        cfg.Kafka.Topic,
			Balancer:     &kafka.Hash{},
			RequiredAcks: kafka.RequireAll,
		},
	}

	lc.Append(fx.Hook{
		OnStop: func(ctx context.Context) error {
			return p.writer.Close()
		},
	})

	zap.L().Info("[Kafka] publisher ready", zap.Strings("brokers", cfg.Kafka.Brokers), zap.String("topic", cfg.Kafka.Topic))
	return p
}

// Publish writes event as JSON. Messages with the same key (an account id)
// land on the same partition and keep their order.
func (p *KafkaPublisher) Publish(ctx context.Context, key string, event any) error {
	data, err := json.Marshal(event)
	if err != nil {
		return err
	}

	return p.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(key),
		Value: data,
	})
}

type NopPublisher struct{}

func (NopPublisher) Publish(context.Context, string, any) error { return nil }
