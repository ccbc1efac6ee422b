// Command dbc runs the query gateway: an HTTP/WebSocket server that sits
// between an editor UI and one or more PostgreSQL databases.
//
// Environment:
//
//	ADDR         listen address (default 127.0.0.1:0)
//	DBC_CONFIG   path to the connections JSON file
//	DBC_LOG      log level (debug, info, warn, error)
//	DBC_SETTINGS optional YAML file with server tuning
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/superhawk610/dbc/internal/cache"
	"github.com/superhawk610/dbc/internal/config"
	"github.com/superhawk610/dbc/internal/gateway"
	"github.com/superhawk610/dbc/internal/logger"
	"github.com/superhawk610/dbc/internal/pool"
	"github.com/superhawk610/dbc/internal/registry"
	"github.com/superhawk610/dbc/internal/secret"
	"github.com/superhawk610/dbc/internal/server"
	"github.com/superhawk610/dbc/internal/stream"
)

func main() {
	settings, err := config.LoadSettings(os.Getenv("DBC_SETTINGS"))
	if err != nil {
		logger.New(nil).Fatal(err.Error())
	}

	broker := stream.NewBroker(settings.LogBacklog)
	log := logger.New(&logger.Config{
		Level:  settings.LogLevel,
		Format: settings.LogFormat,
		Output: os.Stdout,
		Tee:    broker,
	})
	logger.SetGlobal(log)

	store, err := config.Load(settings.ConfigPath)
	if err != nil {
		log.Fatal(err.Error())
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	resolver := secret.New(
		secret.WithTimeout(settings.PasswordTimeout()),
		secret.WithStderrSink(broker.Broadcast),
	)

	reg := registry.New(ctx, store, resolver)
	pools := pool.NewManager(ctx, reg, settings, log)
	defer pools.Close()

	respCache := cache.New(settings.CacheMaxEntries, settings.CacheMaxBytes, settings.CacheMaxTTL())
	catalogs := gateway.NewCatalogCache(0)

	// config changes fan out in order: credentials are already erased by
	// the registry before its event is re-emitted here
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case ev := <-reg.Events():
				log.Infof("connection %q changed, draining pools and caches", ev.Name)
				pools.Invalidate(ev.Name)
				respCache.InvalidateConn(ev.Name)
				catalogs.InvalidateConn(ev.Name)
			}
		}
	}()

	gw := gateway.New(pools, reg, respCache, catalogs, settings, log)
	srv := server.New(store, reg, gw, broker, settings, log)

	if err := srv.Listen(ctx, nil); err != nil {
		log.Fatal(err.Error())
	}
}
