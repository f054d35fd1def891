package kafka

import (
	"context"
	"net"
	"strconv"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	tckafka "github.com/testcontainers/testcontainers-go/modules/kafka"

	"github.com/ariefcatur/go-vending-sales/internal/domain"
	"github.com/ariefcatur/go-vending-sales/internal/sales"
)

func newTestBrokers(t *testing.T) []string {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	c, err := tckafka.Run(ctx, "confluentinc/confluent-local:7.5.0", tckafka.WithClusterID("vending-test"))
	if err != nil {
		t.Skipf("skipping Kafka integration tests: %v", err)
	}
	t.Cleanup(func() { _ = c.Terminate(context.Background()) })

	brokers, err := c.Brokers(ctx)
	if err != nil {
		t.Fatalf("brokers: %v", err)
	}
	return brokers
}

func createTopic(t *testing.T, broker, topic string) {
	t.Helper()
	conn, err := kafka.Dial("tcp", broker)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()
	ctrl, err := conn.Controller()
	if err != nil {
		t.Fatalf("controller: %v", err)
	}
	cc, err := kafka.Dial("tcp", net.JoinHostPort(ctrl.Host, strconv.Itoa(ctrl.Port)))
	if err != nil {
		t.Fatalf("dial controller: %v", err)
	}
	defer cc.Close()
	if err := cc.CreateTopics(kafka.TopicConfig{Topic: topic, NumPartitions: 1, ReplicationFactor: 1}); err != nil {
		t.Fatalf("create topic: %v", err)
	}
}

func TestPublishAndConsumePaymentEvent(t *testing.T) {
	brokers := newTestBrokers(t)
	createTopic(t, brokers[0], TopicPaymentAuthorized)
	createTopic(t, brokers[0], TopicSalePaid)

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	prod := NewProducer(brokers, 16, nil)
	prod.Start()

	m := paymentMessage("ev-int-1", PaymentAuthorizedPayload{PaymentRef: "pay-int", Amount: 150, SaleID: "sale-int"})
	prod.Publish(TopicPaymentAuthorized, PartitionKey("sale-int"), m.Value)
	if err := NewPublisher(prod, "test").Notify(ctx, sales.Event{Type: sales.EventSalePaid, SaleID: "sale-int", State: domain.StatePaid}); err != nil {
		t.Fatalf("notify: %v", err)
	}
	prod.Close()
	prod.WaitClosed()

	rec, pay := &fakeRecorder{}, &fakePayer{}
	h := NewPaymentHandler(rec, pay, memDedup{}, nil)
	done := make(chan struct{})
	handle := func(ctx context.Context, msg kafka.Message) error {
		err := h.Handle(ctx, msg)
		close(done)
		return err
	}

	cctx, ccancel := context.WithCancel(ctx)
	cons := NewConsumer(brokers, "vending-test", TopicPaymentAuthorized, 1, nil)
	errc := make(chan error, 1)
	go func() { errc <- cons.Start(cctx, handle) }()

	select {
	case <-done:
	case <-ctx.Done():
		t.Fatal("payment event was not consumed")
	}
	ccancel()
	if err := <-errc; err != nil {
		t.Fatalf("consumer: %v", err)
	}

	if len(rec.got) != 1 || rec.got[0].PaymentRef != "pay-int" {
		t.Fatalf("unexpected records: %+v", rec.got)
	}
	if len(pay.calls) != 1 || pay.calls[0].SaleID != "sale-int" {
		t.Fatalf("unexpected pay calls: %+v", pay.calls)
	}

	r := kafka.NewReader(kafka.ReaderConfig{Brokers: brokers, Topic: TopicSalePaid, MaxBytes: 10e6})
	defer r.Close()
	msg, err := r.ReadMessage(ctx)
	if err != nil {
		t.Fatalf("read sale.paid: %v", err)
	}
	env, err := UnmarshalEnvelope(msg.Value)
	if err != nil || env.EventType != sales.EventSalePaid || string(msg.Key) != "sale-int" {
		t.Fatalf("unexpected sale.paid message: %+v %v", env, err)
	}
}
