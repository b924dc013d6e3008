package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/danthegoodman1/icescan/gologger"
	"github.com/danthegoodman1/icescan/http_server"
	"github.com/danthegoodman1/icescan/utils"
)

var logger = gologger.NewLogger()

func main() {
	logger.Debug().Msg("starting icescan")

	is, err := NewIceScan(context.Background())
	if err != nil {
		logger.Error().Err(err).Msg("error starting icescan")
		os.Exit(1)
	}

	httpServer, err := http_server.StartHTTPServer(is.Engine, is.DDL)
	if err != nil {
		logger.Error().Err(err).Msg("error starting HTTP server")
		os.Exit(1)
	}

	c := make(chan os.Signal, 1)
	signal.Notify(c, os.Interrupt, syscall.SIGTERM)
	<-c
	logger.Warn().Msg("received shutdown signal!")

	// For AWS ALB needing some time to de-register pod
	// Convert the time to seconds
	sleepTime := utils.SHUTDOWN_SLEEP_SEC
	logger.Info().Msg(fmt.Sprintf("sleeping for %ds before exiting", sleepTime))

	time.Sleep(time.Second * time.Duration(sleepTime))
	logger.Info().Msg(fmt.Sprintf("slept for %ds, exiting", sleepTime))

	ctx, cancel := context.WithTimeout(context.Background(), time.Second*10)
	defer cancel()
	if err := httpServer.Shutdown(ctx); err != nil {
		logger.Error().Err(err).Msg("failed to shutdown HTTP server")
	} else {
		logger.Info().Msg("successfully shutdown HTTP server")
	}
	if err := is.Shutdown(ctx); err != nil {
		logger.Error().Err(err).Msg("failed to shutdown storage")
	}
}
