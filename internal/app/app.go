// Package app wires configuration, logging, the crowd world and the HTTP
// surface into a running server.
package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net"
	"net/http"
	"os"
	"time"

	"golang.org/x/sync/errgroup"

	"crowdnav/internal/bake"
	"crowdnav/internal/bakestore"
	"crowdnav/internal/config"
	"crowdnav/internal/crowd"
	servernet "crowdnav/internal/net"
	"crowdnav/internal/net/ws"
	"crowdnav/internal/telemetry"
	"crowdnav/logging"
	loggingSinks "crowdnav/logging/sinks"
)

// Options configure Run. Only Config is required.
type Options struct {
	Config config.Config
	Logger telemetry.Logger
	// Stdout receives console sink output. Defaults to os.Stdout.
	Stdout io.Writer
	// Listener overrides Config.Server.Addr.
	Listener net.Listener
	// OnListen is called with the bound address once the server accepts
	// connections.
	OnListen func(addr string)
}

// Run serves until ctx is cancelled or a component fails.
func Run(ctx context.Context, opts Options) error {
	cfg := opts.Config
	telemetryLogger := opts.Logger
	if telemetryLogger == nil {
		telemetryLogger = telemetry.WrapLogger(log.Default())
	}
	stdout := opts.Stdout
	if stdout == nil {
		stdout = os.Stdout
	}

	named, err := loggingSinks.Build(cfg.Logging, stdout)
	if err != nil {
		return fmt.Errorf("failed to construct log sinks: %w", err)
	}
	router, err := logging.NewRouter(logging.SystemClock{}, cfg.Logging, named)
	if err != nil {
		return fmt.Errorf("failed to construct logging router: %w", err)
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		if cerr := router.Close(closeCtx); cerr != nil {
			telemetryLogger.Printf("failed to close logging router: %v", cerr)
		}
	}()
	metrics := telemetry.WrapMetrics(router.Metrics())

	world := crowd.New(cfg.World(), crowd.Deps{
		Logger:    telemetryLogger,
		Metrics:   metrics,
		Publisher: router,
		Counters:  telemetry.NewCounters(),
	})

	desc, found, err := LoadBake(ctx, cfg.Store, telemetryLogger)
	if err != nil {
		return err
	}
	if found {
		if err := world.ReplaceMesh(ctx, desc); err != nil {
			return fmt.Errorf("load scene %d: %w", desc.SceneID, err)
		}
	} else {
		telemetryLogger.Printf("no bake configured; waiting for a mesh")
	}

	broadcaster := ws.NewBroadcaster(world, telemetryLogger, metrics)
	stream := ws.NewHandler(world, broadcaster, ws.HandlerConfig{
		Logger:   telemetryLogger,
		Settings: cfg.Agent,
	})
	handler := servernet.NewHTTPHandler(world, servernet.HTTPHandlerConfig{
		Logger:   telemetryLogger,
		Router:   router,
		Stream:   stream,
		Settings: cfg.Agent,
		Scenes:   sceneLoader(cfg.Store, telemetryLogger),
	})

	every := uint64(max(cfg.Server.BroadcastEvery, 1))
	loop := crowd.NewLoop(world, cfg.Loop, crowd.LoopHooks{
		AfterStep: func(result crowd.TickResult) {
			if result.Tick%every == 0 {
				broadcaster.Broadcast()
			}
		},
		OnError: func(err error) {
			telemetryLogger.Printf("tick failed: %v", err)
		},
	})

	listener := opts.Listener
	if listener == nil {
		listener, err = net.Listen("tcp", cfg.Server.Addr)
		if err != nil {
			return fmt.Errorf("listen on %s: %w", cfg.Server.Addr, err)
		}
	}
	srv := &http.Server{Handler: handler, ReadHeaderTimeout: 10 * time.Second}

	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(func() error {
		return loop.Run(groupCtx)
	})
	group.Go(func() error {
		telemetryLogger.Printf("server listening on %s", listener.Addr())
		if opts.OnListen != nil {
			opts.OnListen(listener.Addr().String())
		}
		if err := srv.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server failed: %w", err)
		}
		return nil
	})
	group.Go(func() error {
		<-groupCtx.Done()
		broadcaster.Close()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutdown: %w", err)
		}
		return nil
	})

	err = group.Wait()
	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	telemetryLogger.Printf("server stopped after %d ticks", world.CurrentTick())
	return nil
}

// LoadBake reads the startup bake. A configured file wins over the store;
// the store is consulted only for a non-zero scene id. found is false when
// neither is configured.
func LoadBake(ctx context.Context, cfg config.StoreConfig, logger telemetry.Logger) (bake.Descriptor, bool, error) {
	if cfg.BakeFile != "" {
		desc, err := bake.LoadFile(cfg.BakeFile)
		if err != nil {
			return bake.Descriptor{}, false, fmt.Errorf("load bake %s: %w", cfg.BakeFile, err)
		}
		return desc, true, nil
	}
	if cfg.SceneID == 0 || cfg.DSN == "" {
		return bake.Descriptor{}, false, nil
	}
	store, err := bakestore.Open(cfg.Driver, cfg.DSN, logger)
	if err != nil {
		return bake.Descriptor{}, false, err
	}
	defer store.Close()
	desc, err := store.Load(ctx, cfg.SceneID)
	if err != nil {
		return bake.Descriptor{}, false, err
	}
	return desc, true, nil
}

// sceneLoader opens the store per request so an idle server holds no
// database handle. It is nil when no store is configured.
func sceneLoader(cfg config.StoreConfig, logger telemetry.Logger) servernet.SceneLoader {
	if cfg.DSN == "" {
		return nil
	}
	return func(ctx context.Context, sceneID uint32) (bake.Descriptor, error) {
		store, err := bakestore.Open(cfg.Driver, cfg.DSN, logger)
		if err != nil {
			return bake.Descriptor{}, err
		}
		defer store.Close()
		return store.Load(ctx, sceneID)
	}
}
