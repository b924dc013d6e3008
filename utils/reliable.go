package utils

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/UltimateTournament/backoff/v4"
	"github.com/cockroachdb/cockroach-go/v2/crdb/crdbpgx"
	"github.com/jackc/pgconn"
	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/rs/zerolog"
)

// retryableCodes are SQLSTATE codes worth another attempt: serialization
// failures and connection loss.
var retryableCodes = map[string]bool{
	"40001": true,
	"40P01": true,
	"08000": true,
	"08003": true,
	"08006": true,
	"57P01": true,
}

func IsRetryablePGError(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return retryableCodes[pgErr.Code]
	}
	return pgconn.SafeToRetry(err)
}

// ReliableExec acquires a pool connection and runs f, retrying with
// exponential backoff while the failure is transient and the deadline has not
// passed.
func ReliableExec(ctx context.Context, pool *pgxpool.Pool, tryTimeout time.Duration, f func(ctx context.Context, conn *pgxpool.Conn) error) error {
	logger := zerolog.Ctx(ctx)
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 20 * time.Millisecond
	bo.MaxElapsedTime = tryTimeout

	attempt := 0
	return backoff.Retry(func() error {
		attempt++
		conn, err := pool.Acquire(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return backoff.Permanent(ctx.Err())
			}
			return fmt.Errorf("error in pool.Acquire: %w", err)
		}
		defer conn.Release()

		err = f(ctx, conn)
		if err == nil {
			return nil
		}
		if IsPermanent(err) || !IsRetryablePGError(err) {
			return backoff.Permanent(err)
		}
		logger.Debug().Err(err).Int("attempt", attempt).Msg("retrying transient error")
		return err
	}, backoff.WithContext(bo, ctx))
}

// ReliableExecInTx runs f inside a transaction that cockroach-go restarts on
// serialization failures.
func ReliableExecInTx(ctx context.Context, pool *pgxpool.Pool, tryTimeout time.Duration, f func(ctx context.Context, tx pgx.Tx) error) error {
	ctx, cancel := context.WithTimeout(ctx, tryTimeout)
	defer cancel()
	return crdbpgx.ExecuteTx(ctx, pool, pgx.TxOptions{}, func(tx pgx.Tx) error {
		return f(ctx, tx)
	})
}
