package kafka

import (
	"context"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/ariefcatur/go-vending-sales/internal/domain"
	"github.com/ariefcatur/go-vending-sales/internal/sales"
)

type sent struct {
	topic   string
	key     []byte
	value   []byte
	headers []kafka.Header
}

type fakeOut struct{ msgs []sent }

func (f *fakeOut) Publish(topic string, key, value []byte, headers ...kafka.Header) {
	f.msgs = append(f.msgs, sent{topic, key, value, headers})
}

func TestPublisherNotify(t *testing.T) {
	out := &fakeOut{}
	p := NewPublisher(out, "sales-api")
	at := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	err := p.Notify(context.Background(), sales.Event{
		Type:       sales.EventSaleCanceled,
		SaleID:     "sale-1",
		SlotID:     "slot-1",
		Quantity:   2,
		TotalPrice: 300,
		State:      domain.StateCanceled,
		Reason:     "changed mind",
		OccurredAt: at,
	})
	if err != nil {
		t.Fatalf("notify: %v", err)
	}
	if len(out.msgs) != 1 {
		t.Fatalf("want 1 message, got %d", len(out.msgs))
	}
	m := out.msgs[0]
	if m.topic != TopicSaleCanceled || string(m.key) != "sale-1" {
		t.Fatalf("topic/key = %s/%s", m.topic, m.key)
	}

	env, err := UnmarshalEnvelope(m.value)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if env.EventType != sales.EventSaleCanceled || env.Producer != "sales-api" || env.CorrelationID != "sale-1" {
		t.Fatalf("unexpected envelope: %+v", env)
	}
	if env.EventID == "" || !env.OccurredAt.Equal(at) {
		t.Fatalf("event id/time not set: %+v", env)
	}
	p2, err := UnwrapPayload[SaleEventPayload](env.Payload)
	if err != nil {
		t.Fatalf("payload: %v", err)
	}
	if p2.Reason != "changed mind" || p2.State != domain.StateCanceled || p2.TotalPrice != 300 {
		t.Fatalf("unexpected payload: %+v", p2)
	}
}

func TestPublisherEveryEventHasTopic(t *testing.T) {
	out := &fakeOut{}
	p := NewPublisher(out, "sales-api")
	for typ := range topicByEvent {
		if err := p.Notify(context.Background(), sales.Event{Type: typ, SaleID: "s"}); err != nil {
			t.Fatalf("%s: %v", typ, err)
		}
	}
	if err := p.Notify(context.Background(), sales.Event{Type: "Bogus"}); err == nil {
		t.Fatal("expected error for unknown event type")
	}
	if len(out.msgs) != len(topicByEvent) {
		t.Fatalf("want %d messages, got %d", len(topicByEvent), len(out.msgs))
	}
}
