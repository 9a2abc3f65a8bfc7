package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"

	"github.com/and161185/collab-studio/internal/command"
	"github.com/and161185/collab-studio/internal/config"
	"github.com/and161185/collab-studio/internal/dispatch"
	"github.com/and161185/collab-studio/internal/fanout"
	"github.com/and161185/collab-studio/internal/limiter"
	"github.com/and161185/collab-studio/internal/metrics"
	"github.com/and161185/collab-studio/internal/migrate"
	"github.com/and161185/collab-studio/internal/repository"
	"github.com/and161185/collab-studio/internal/repository/memory"
	"github.com/and161185/collab-studio/internal/repository/postgres"
	"github.com/and161185/collab-studio/internal/rollup"
	grpcserver "github.com/and161185/collab-studio/internal/server/grpc"
	"github.com/and161185/collab-studio/internal/server/ws"
	"github.com/and161185/collab-studio/internal/service"
	"github.com/and161185/collab-studio/internal/session"
)

const shutdownTimeout = 10 * time.Second

type storage struct {
	content repository.ContentRepository
	tokens  repository.TokenRepository
	designs repository.DesignRepository
	lim     limiter.Limiter
	close   func()
}

func openStorage(ctx context.Context, cfg config.Config, log *zap.Logger) (*storage, error) {
	lc := cfg.Limiter
	if cfg.Storage.Driver != config.StoragePostgres {
		mdb, err := memory.New()
		if err != nil {
			return nil, fmt.Errorf("memory storage: %w", err)
		}
		return &storage{
			content: memory.NewContentRepo(mdb),
			tokens:  memory.NewTokenRepo(mdb),
			designs: memory.NewDesignRepo(mdb),
			lim:     limiter.NewMemory(lc.CacheSize, lc.Window, lc.MaxFailures, lc.BlockFor),
			close:   func() {},
		}, nil
	}

	v, err := migrate.Up(ctx, cfg.Storage.DSN)
	if err != nil {
		return nil, err
	}
	log.Info("schema migrated", zap.Int64("version", v))

	db, err := postgres.New(ctx, cfg.Storage.DSN, 0)
	if err != nil {
		return nil, fmt.Errorf("postgres: %w", err)
	}
	return &storage{
		content: postgres.NewContentRepo(db),
		tokens:  postgres.NewTokenRepo(db),
		designs: postgres.NewDesignRepo(db),
		lim:     limiter.NewPGWithQuerier(db.Pool, lc.Window, lc.MaxFailures, lc.BlockFor),
		close:   db.Close,
	}, nil
}

func openBroker(ctx context.Context, cfg config.Config, log *zap.Logger) (fanout.Broker, error) {
	if cfg.Fanout.Driver != config.FanoutRedis {
		return fanout.NewLocal(), nil
	}
	node := fanout.NewNodeID()
	log.Info("joining fan-out", zap.String("redis", cfg.Fanout.RedisAddr), zap.String("node", node))
	return fanout.DialRedis(ctx, cfg.Fanout.RedisAddr, cfg.Fanout.Prefix+":", node, log)
}

// run wires every component and serves until ctx ends or a server fails.
// Open sessions are rolled up before it returns.
func run(ctx context.Context, cfg config.Config, log *zap.Logger, httpLis, grpcLis net.Listener, grpcOpts ...grpc.ServerOption) error {
	m, err := metrics.New()
	if err != nil {
		return err
	}
	st, err := openStorage(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer st.close()
	broker, err := openBroker(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer func() { _ = broker.Close() }()

	// Services
	handshake := service.NewHandshakeService(st.tokens, st.content, cfg.Auth.TokenSalt, cfg.Session.TokenTTL,
		service.WithLimiter(st.lim))
	content := service.NewContentService(st.content, cfg.Storage.MaxEntryBytes)
	identity := service.NewIdentity([]byte(cfg.Auth.JWTKey), cfg.Auth.IdentityTTL)

	// Sessions
	disp := dispatch.New(content, log,
		dispatch.WithTimeout(cfg.Session.DispatchTimeout),
		dispatch.WithMetrics(m))
	roll := rollup.New(st.content, st.designs, command.NewJSONPatch(), log)
	mgr := session.NewManager(broker, roll, disp, log,
		session.WithRollupTimeout(cfg.Session.RollupTimeout),
		session.WithMetrics(m))

	// gRPC server with interceptors
	gs := grpc.NewServer(append(grpcOpts,
		grpc.ChainUnaryInterceptor(
			grpcserver.RecoverUnary(log),
			grpcserver.LoggingUnary(log),
			grpcserver.AuthUnary(identity),
		))...)
	grpcserver.RegisterSessionsServer(gs, grpcserver.New(handshake, roll, mgr, log))
	hs := health.NewServer()
	healthpb.RegisterHealthServer(gs, hs)
	if cfg.GRPC.Reflection {
		reflection.Register(gs)
	}

	// Websocket, health and metrics
	wsh := ws.NewHandler(handshake, mgr, disp, log, m, ws.Options{
		SendQueue:       cfg.HTTP.SendQueue,
		WriteTimeout:    cfg.HTTP.WriteTimeout,
		PongWait:        cfg.HTTP.PongWait,
		MaxMessageBytes: cfg.HTTP.MaxMessageBytes,
	})
	httpSrv := &http.Server{
		Handler:           ws.NewRouter(wsh, m.Registry()),
		ReadHeaderTimeout: cfg.HTTP.ReadHeaderTimeout,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info("grpc listening", zap.String("addr", grpcLis.Addr().String()))
		return gs.Serve(grpcLis)
	})
	g.Go(func() error {
		log.Info("http listening", zap.String("addr", httpLis.Addr().String()))
		if err := httpSrv.Serve(httpLis); !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		sweepTokens(gctx, handshake, cfg.Session.SweepInterval, log)
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info("shutting down")
		hs.Shutdown()

		sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
		defer cancel()
		if err := httpSrv.Shutdown(sctx); err != nil {
			log.Warn("http shutdown", zap.Error(err))
		}
		mgr.Shutdown(sctx)
		stopGRPC(gs, 5*time.Second)
		return nil
	})
	return g.Wait()
}

// sweepTokens deletes expired handshake tokens every interval until ctx ends.
func sweepTokens(ctx context.Context, hs service.HandshakeService, every time.Duration, log *zap.Logger) {
	if every <= 0 {
		return
	}
	t := time.NewTicker(every)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			n, err := hs.SweepExpired(ctx)
			if err != nil {
				log.Warn("token sweep failed", zap.Error(err))
				continue
			}
			if n > 0 {
				log.Debug("expired tokens removed", zap.Int64("count", n))
			}
		}
	}
}

func stopGRPC(gs *grpc.Server, grace time.Duration) {
	done := make(chan struct{})
	go func() {
		gs.GracefulStop()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(grace):
		gs.Stop()
	}
}
