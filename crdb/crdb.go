package crdb

import (
	"context"
	"fmt"
	"time"

	"github.com/danthegoodman1/icescan/gologger"
	"github.com/jackc/pgx/v4/pgxpool"
)

var (
	logger = gologger.NewLogger()
)

// ConnectToDB opens the pool backing the CRDB storage engine and checks it
// with a ping.
func ConnectToDB(ctx context.Context, dsn string) (*pgxpool.Pool, error) {
	logger.Debug().Msg("connecting to CRDB...")
	config, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("error in pgxpool.ParseConfig: %w", err)
	}

	config.MaxConns = 10
	config.MinConns = 1
	config.HealthCheckPeriod = time.Second * 5
	config.MaxConnLifetime = time.Minute * 30
	config.MaxConnIdleTime = time.Minute * 30

	pool, err := pgxpool.ConnectConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("error in pgxpool.ConnectConfig: %w", err)
	}
	if err = pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("error in pool.Ping: %w", err)
	}
	logger.Debug().Msg("connected to CRDB")
	return pool, nil
}
