package sink

import (
	"context"

	"trustledger/internal/audit"
	"trustledger/internal/platform/kafka"
)

// Producer is the subset of the Kafka producer the sink needs.
type Producer interface {
	ProduceSync(ctx context.Context, msgs ...kafka.Message) error
}

// KafkaPublisher writes batches of audit records to Kafka, keyed by entity so
// one entity's records stay ordered within a partition.
type KafkaPublisher struct {
	producer Producer
}

func NewKafkaPublisher(p Producer) *KafkaPublisher {
	return &KafkaPublisher{producer: p}
}

func (k *KafkaPublisher) PublishBatch(ctx context.Context, recs []*audit.Record) error {
	msgs := make([]kafka.Message, 0, len(recs))
	for _, rec := range recs {
		value, err := encode(rec)
		if err != nil {
			return err
		}
		msgs = append(msgs, kafka.Message{
			Key:   []byte(string(rec.EntityType) + ":" + rec.EntityID),
			Value: value,
			Headers: map[string]string{
				"action":           string(rec.Action),
				"compliance_level": string(rec.ComplianceLevel),
			},
		})
	}
	return k.producer.ProduceSync(ctx, msgs...)
}
