package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"

	"github.com/ovaphlow/pitchfork/service-locker-go/internal/otp"
	"github.com/ovaphlow/pitchfork/service-locker-go/internal/record"
	"github.com/ovaphlow/pitchfork/service-locker-go/internal/rental"
	"github.com/ovaphlow/pitchfork/service-locker-go/internal/router"
	"github.com/ovaphlow/pitchfork/service-locker-go/internal/token"
	"github.com/ovaphlow/pitchfork/service-locker-go/internal/user"
	"github.com/ovaphlow/pitchfork/service-locker-go/pkg/database"
	"github.com/ovaphlow/pitchfork/service-locker-go/pkg/utilities"
)

// openStore builds the record store selected by LOCKER_STORE.
func openStore(ctx context.Context, kind string, sugar *zap.SugaredLogger) (record.Store, error) {
	switch kind {
	case "", "memory":
		sugar.Warn("using in-memory store; data is lost on restart")
		return record.NewMemoryStore(), nil
	case "sqlite", "postgres":
		db, err := database.Connect(database.ConfigFromEnv(kind))
		if err != nil {
			return nil, fmt.Errorf("db connect: %w", err)
		}
		s := record.NewSQLStore(db)
		if err := s.EnsureTable(ctx); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("ensure records table: %w", err)
		}
		return s, nil
	case "remote":
		base := record.RemoteConfigFromEnv()
		if base == "" {
			return nil, fmt.Errorf("REMOTE_STORE_URL is required for the remote store")
		}
		return record.NewRemoteStore(base, nil), nil
	default:
		return nil, fmt.Errorf("unknown LOCKER_STORE %q", kind)
	}
}

func main() {
	// load .env file if present so os.Getenv picks values from it
	_ = godotenv.Load()

	lg, err := utilities.Init(utilities.ConfigFromEnv())
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to init logger: %v\n", err)
		os.Exit(1)
	}
	defer lg.Sync()

	sugar := lg.Sugar()
	sugar.Info("starting service-locker-go")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	kind := os.Getenv("LOCKER_STORE")
	store, err := openStore(ctx, kind, sugar)
	if err != nil {
		sugar.Fatalf("open store: %v", err)
	}
	defer store.Close()

	clock := clockwork.NewRealClock()
	db := record.NewDB(store)
	svc := rental.NewService(db, user.HasherFromEnv(), clock, sugar)

	seedCtx, cancelSeed := context.WithTimeout(ctx, 10*time.Second)
	err = svc.Seed(seedCtx)
	cancelSeed()
	if err != nil {
		sugar.Fatalf("seed: %v", err)
	}

	tokenCfg := token.ConfigFromEnv()
	if tokenCfg.Ephemeral {
		sugar.Warn("JWT_SECRET not set; using a random secret, sessions end on restart")
	}
	tokens, err := token.NewService(tokenCfg, clock)
	if err != nil {
		sugar.Fatalf("token service: %v", err)
	}

	purge := otp.NewPurgeScheduler(svc.Issuer(), sugar)
	if err := purge.Start(otp.PurgeScheduleFromEnv()); err != nil {
		sugar.Fatalf("otp purge schedule: %v", err)
	}
	defer purge.Stop()

	// raw record endpoints let other instances use this one as their remote store
	var records *record.Handler
	if os.Getenv("RECORDS_API_ENABLED") == "1" && kind != "remote" {
		records = record.NewHandler(db, sugar)
	}

	addr := os.Getenv("HTTP_ADDR")
	if addr == "" {
		addr = "0.0.0.0:8431"
	}
	handler := router.RegisterRoutes(sugar, rental.NewHandler(svc, tokens, sugar), tokens, records)
	srv := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			sugar.Fatalf("http server failed: %v", err)
		}
	}()
	sugar.Infow("service is running", "addr", addr, "store", kind)

	<-ctx.Done()

	sugar.Info("shutting down")

	doneCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := srv.Shutdown(doneCtx); err != nil {
		sugar.Warnf("http server shutdown failed: %v", err)
	}

	sugar.Info("goodbye")
}
