package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Netflix/go-env"
	"github.com/dgraph-io/badger/v4"
	"github.com/joho/godotenv"
	"github.com/mama165/sdk-go/logs"

	"chat-relay/observability"
	"chat-relay/repositories"
	"chat-relay/runtime"
	"chat-relay/runtime/workers"
	"chat-relay/transport"
)

const shutdownTimeout = 10 * time.Second

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Fatal error: %v\n", err)
		os.Exit(1)
	}
}

// run initializes all components, manages the server lifecycle, and
// centralizes error reporting. This pattern is preferred over calling
// os.Exit or panic directly because:
//  1. It ensures all 'defer' statements (like database cleanup) are executed
//     before the program exits.
//  2. It improves testability by decoupling initialization from the entry
//     point.
//  3. It provides a structured way to handle graceful shutdowns for the
//     HTTP server and background workers.
func run() error {
	// 1. Configuration & Logger
	_ = godotenv.Load()
	var config Config
	if _, err := env.UnmarshalFromEnviron(&config); err != nil {
		return fmt.Errorf("config error: %w", err)
	}
	log := logs.GetLoggerFromString(config.LogLevel)

	// 2. Database (BadgerDB)
	db, err := badger.Open(badger.DefaultOptions(config.BadgerFilepath).
		WithLoggingLevel(badger.INFO))
	if err != nil {
		return fmt.Errorf("database opening failed: %w", err)
	}
	defer func() {
		log.Info("Closing BadgerDB...")
		_ = db.Close()
	}()

	// 3. Relay, history gateway & supervised workers
	stats := observability.NewStats()
	history := repositories.NewHistoryRepository(db, log)
	relay := runtime.NewRelay(log, history, stats, config.StorageBufferSize, config.HistoryLimit)

	sup := workers.NewSupervisor(log)
	sup.Add(workers.NewHistoryWriter(history, relay.PendingStorage(), stats, log))

	// 4. Context & Signals
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go sup.Run(ctx)

	// 5. HTTP + WebSocket server
	app := transport.NewRouter(log, relay, history, stats, config.ConnectionBufferSize)

	address := fmt.Sprintf("%s:%d", config.Host, config.Port)
	errChan := make(chan error, 1)
	go func() {
		log.Info("Starting server", "address", address, "at", time.Now().UTC())
		if err := app.Listen(address); err != nil {
			errChan <- fmt.Errorf("server error: %w", err)
		}
	}()

	// 6. Wait for Stop or Error
	select {
	case <-ctx.Done():
		log.Info("Shutting down gracefully...")
		relay.BroadcastSystemNotice(context.Background(), "Server is shutting down")
	case err := <-errChan:
		return err
	}

	// 7. Final Cleanup
	if err := app.ShutdownWithTimeout(shutdownTimeout); err != nil {
		log.Warn("Server shutdown did not complete cleanly", "error", err)
	}
	sup.Stop()
	log.Info("Program stopped cleanly")

	return nil
}
