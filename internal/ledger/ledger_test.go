package ledger

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/ariefcatur/go-vending-sales/internal/domain"
)

type fakeLedger struct {
	calls []Op
	block bool
	err   error
}

func (f *fakeLedger) run(ctx context.Context, op Op) error {
	f.calls = append(f.calls, op)
	if f.block {
		<-ctx.Done()
		return ctx.Err()
	}
	return f.err
}

func (f *fakeLedger) Reserve(ctx context.Context, _ string, _ int) error {
	return f.run(ctx, OpReserve)
}
func (f *fakeLedger) Release(ctx context.Context, _ string, _ int) error {
	return f.run(ctx, OpRelease)
}
func (f *fakeLedger) Consume(ctx context.Context, _ string, _ int) error {
	return f.run(ctx, OpConsume)
}

func TestApply(t *testing.T) {
	f := &fakeLedger{}
	for _, op := range []Op{OpReserve, OpRelease, OpConsume} {
		if err := Apply(context.Background(), f, op, "s1", 1); err != nil {
			t.Fatalf("%s: %v", op, err)
		}
	}
	if len(f.calls) != 3 || f.calls[0] != OpReserve || f.calls[2] != OpConsume {
		t.Fatalf("unexpected dispatch: %v", f.calls)
	}

	if err := Apply(context.Background(), f, OpReserve, "s1", 0); !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("qty 0: want validation error, got %v", err)
	}
	if err := Apply(context.Background(), f, Op("restock"), "s1", 1); err == nil {
		t.Fatal("unknown op should fail")
	}
	if len(f.calls) != 3 {
		t.Fatal("rejected calls must not reach the ledger")
	}
}

func TestWithTimeout(t *testing.T) {
	t.Run("deadline becomes lock timeout", func(t *testing.T) {
		l := WithTimeout(&fakeLedger{block: true}, 20*time.Millisecond, nil)
		err := l.Reserve(context.Background(), "s1", 1)
		if !errors.Is(err, domain.ErrLockTimeout) || !domain.IsRetryable(err) {
			t.Fatalf("want retryable lock timeout, got %v", err)
		}
	})

	t.Run("caller cancel is passed through", func(t *testing.T) {
		l := WithTimeout(&fakeLedger{block: true}, time.Minute, nil)
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		err := l.Release(ctx, "s1", 1)
		if !errors.Is(err, context.Canceled) || errors.Is(err, domain.ErrLockTimeout) {
			t.Fatalf("want context.Canceled, got %v", err)
		}
	})

	t.Run("other errors untouched", func(t *testing.T) {
		l := WithTimeout(&fakeLedger{err: domain.ErrInsufficientStock}, time.Second, nil)
		if err := l.Consume(context.Background(), "s1", 1); !errors.Is(err, domain.ErrInsufficientStock) {
			t.Fatalf("want insufficient stock, got %v", err)
		}
	})

	t.Run("zero timeout disables the decorator", func(t *testing.T) {
		f := &fakeLedger{}
		if WithTimeout(f, 0, nil) != Ledger(f) {
			t.Fatal("expected the wrapped ledger back")
		}
	})
}
