package kafka

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"
	"go.opentelemetry.io/otel/trace"

	"github.com/ariefcatur/go-vending-sales/internal/sales"
	"github.com/ariefcatur/go-vending-sales/internal/tracing"
)

type publisher interface {
	Publish(topic string, key, value []byte, headers ...kafka.Header)
}

// Publisher turns committed sale transitions into Kafka events.
type Publisher struct {
	out      publisher
	producer string
}

var _ sales.Notifier = (*Publisher)(nil)

func NewPublisher(out publisher, producer string) *Publisher {
	return &Publisher{out: out, producer: producer}
}

func (p *Publisher) Notify(ctx context.Context, ev sales.Event) error {
	topic, ok := topicByEvent[ev.Type]
	if !ok {
		return fmt.Errorf("no topic for event %q", ev.Type)
	}
	env := Envelope{
		EventID:       uuid.NewString(),
		EventType:     ev.Type,
		EventVersion:  1,
		OccurredAt:    ev.OccurredAt,
		Producer:      p.producer,
		CorrelationID: ev.SaleID,
		Payload: MustMarshal(SaleEventPayload{
			SaleID:     ev.SaleID,
			SlotID:     ev.SlotID,
			Quantity:   ev.Quantity,
			TotalPrice: ev.TotalPrice,
			State:      ev.State,
			Reason:     ev.Reason,
		}),
	}
	if sc := trace.SpanContextFromContext(ctx); sc.HasTraceID() {
		env.TraceID = sc.TraceID().String()
	}
	headers := tracing.InjectKafkaHeaders(ctx, []kafka.Header{
		{Key: "event_type", Value: []byte(ev.Type)},
	})
	p.out.Publish(topic, PartitionKey(ev.SaleID), MustMarshal(env), headers...)
	return nil
}
