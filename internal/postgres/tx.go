package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ariefcatur/go-vending-sales/internal/domain"
)

type txKey struct{}

type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

func withTx(ctx context.Context, pool *pgxpool.Pool, fn func(ctx context.Context) error) error {
	if txFromContext(ctx) != nil {
		return fn(ctx)
	}

	tx, err := pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return storeErr("begin tx", err)
	}

	txCtx := context.WithValue(ctx, txKey{}, tx)
	if err := fn(txCtx); err != nil {
		_ = tx.Rollback(context.WithoutCancel(ctx))
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return storeErr("commit", err)
	}
	return nil
}

func txFromContext(ctx context.Context) pgx.Tx {
	tx, _ := ctx.Value(txKey{}).(pgx.Tx)
	return tx
}

func pgCode(err error) string {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code
	}
	return ""
}

func isUniqueViolation(err error) bool { return pgCode(err) == "23505" }

func isCheckViolation(err error) bool { return pgCode(err) == "23514" }

func isInvalidUUID(err error) bool { return pgCode(err) == "22P02" }

// lock_not_available, raised when lock_timeout elapses
func isLockTimeout(err error) bool { return pgCode(err) == "55P03" }

// storeErr tags infrastructure failures so callers can tell them apart from
// domain outcomes.
func storeErr(op string, err error) error {
	if err == nil {
		return nil
	}
	if isLockTimeout(err) {
		return fmt.Errorf("%s: %w", op, domain.ErrLockTimeout)
	}
	if errors.Is(err, domain.ErrStore) {
		return err
	}
	return fmt.Errorf("%s: %w: %w", op, domain.ErrStore, err)
}
