package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	embeddedpostgres "github.com/fergusstrange/embedded-postgres"
	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/roomchat/internal/chat"
	"github.com/roomchat/internal/config"
	"github.com/roomchat/internal/handler"
	"github.com/roomchat/internal/logger"
	"github.com/roomchat/internal/middleware"
	"github.com/roomchat/internal/model"
	"github.com/roomchat/internal/repository"
	"github.com/roomchat/internal/startup"
	"github.com/roomchat/internal/storage"
	"github.com/roomchat/internal/storage/memory"
	"github.com/roomchat/internal/ws"
	"github.com/roomchat/migrations"
)

func main() {
	logger.SetPrefix("api")
	if err := run(); err != nil {
		logger.Errorf("%v", err)
		logger.Flush(time.Second)
		os.Exit(1)
	}
	logger.Flush(time.Second)
}

// run держит все ресурсы процесса; возврат ошибки проходит через defer, так что
// встроенный Postgres и шина событий останавливаются и при сбое запуска.
func run() error {
	migrateOnly := flag.Bool("migrate", false, "apply migrations and exit")
	dev := flag.Bool("dev", false, "embedded PostgreSQL, in-process event bus, trusted ?user_id=")
	flag.Parse()

	cfg := config.Load()
	logger.SetLevel(cfg.LogLevel)
	logger.Info("starting chat API service")

	if *dev {
		pg, err := startEmbeddedPostgres(cfg)
		if err != nil {
			return fmt.Errorf("embedded postgres: %w", err)
		}
		defer func() {
			if err := pg.Stop(); err != nil {
				logger.Errorf("embedded postgres stop: %v", err)
			}
		}()
	}

	pool, err := openDatabase(cfg)
	if err != nil {
		return fmt.Errorf("database: %w", err)
	}
	defer pool.Close()
	if *migrateOnly {
		return nil
	}

	profiles := repository.NewProfileRepository(pool)
	prepareDirectory(cfg, profiles, *dev)

	broker, health, err := newBroker(cfg)
	if err != nil {
		return fmt.Errorf("event bus: %w", err)
	}
	defer func() {
		if err := broker.Close(); err != nil {
			logger.Errorf("event bus close: %v", err)
		}
	}()

	hub := newEngine(cfg, broker, chat.Stores{
		Directory: profiles,
		Rooms:     repository.NewRoomRepository(pool),
		Messages:  repository.NewMessageRepository(pool),
	})
	hubCtx, stopHub := context.WithCancel(context.Background())
	defer stopHub()
	if err := hub.Start(hubCtx); err != nil {
		return fmt.Errorf("hub start: %w", err)
	}

	auth, err := authMiddleware(cfg, *dev)
	if err != nil {
		return fmt.Errorf("auth: %w", err)
	}

	srv := &http.Server{
		Addr:         cfg.ServerAddr,
		Handler:      newRouter(cfg, hub, auth, append(health, pool)),
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}
	err = serve(srv)
	stopHub()
	<-hub.Done()
	logger.Info("hub stopped, all connections closed")
	if err != nil {
		return fmt.Errorf("server: %w", err)
	}
	return nil
}

func openDatabase(cfg *config.Config) (*pgxpool.Pool, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.DatabaseURL())
	if err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	poolCfg.MaxConns = int32(cfg.DBMaxConnections())
	poolCfg.MinConns = 2
	pool, err := startup.ConnectDBWithRetry(poolCfg, 60*time.Second, "")
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := migrations.Run(ctx, pool); err != nil {
		pool.Close()
		return nil, err
	}
	logger.Info("database connected, migrations applied")
	return pool, nil
}

// newBroker выбирает шину событий: Redis для нескольких экземпляров, иначе in-process.
func newBroker(cfg *config.Config) (storage.Broker, []handler.Pinger, error) {
	if cfg.RedisURL == "" {
		logger.Info("event bus: in-process (single instance)")
		return memory.NewBroker(), nil, nil
	}
	b, err := startup.ConnectRedisWithRetry(cfg.RedisURL, 60*time.Second, "")
	if err != nil {
		return nil, nil, err
	}
	logger.Info("event bus: redis")
	return b, []handler.Pinger{b}, nil
}

// newEngine собирает hub и сервисы; сервисы публикуют через hub, поэтому Mount идёт после NewHub.
func newEngine(cfg *config.Config, broker storage.Broker, st chat.Stores) *ws.Hub {
	hub := ws.NewHub(broker, ws.Options{
		MaxConns:       cfg.WS.MaxConnections,
		SendBuffer:     cfg.WS.SendBufferSize,
		MaxMessageSize: cfg.WS.MaxMessageSize,
		PongWait:       cfg.WS.PongTimeout,
		WriteWait:      cfg.WS.WriteTimeout,
		HandlerTimeout: cfg.WS.HandlerTimeout,
	})
	recent := chat.NewRecentChats(st.Rooms, st.Messages, st.Directory)
	hub.Mount(ws.Services{
		Rooms:    chat.NewRoomService(st, recent, hub),
		Messages: chat.NewMessageService(st, recent, hub),
		Presence: chat.NewPresenceService(st, recent, hub),
	})
	return hub
}

func newRouter(cfg *config.Config, hub *ws.Hub, auth func(http.Handler) http.Handler, health []handler.Pinger) http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.RealIP)
	r.Use(chimw.Logger)
	r.Use(middleware.RecoverJSON)
	r.Use(middleware.RequestLog)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{cfg.CORSAllowedOrigins},
		AllowedMethods:   []string{"GET", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "X-Session-Id", "X-Timestamp", "X-Signature"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.Get("/health", handler.Health(health...))
	wsH := handler.NewWSHandler(hub, cfg.CORSAllowedOrigins)
	r.Group(func(r chi.Router) {
		r.Use(auth)
		r.Use(middleware.RateLimit(60, time.Minute))
		r.Get("/ws", wsH.ServeWS)
	})
	return r
}

// serve блокируется до SIGINT/SIGTERM или ошибки сервера, затем перестаёт принимать соединения.
func serve(srv *http.Server) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		logger.Infof("server listening on %s", srv.Addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	<-errCh
	logger.Info("server stopped accepting connections")
	return nil
}

// authMiddleware выбирает способ проверки личности: JWT, внешний сервис или (только -dev) доверие к user_id.
func authMiddleware(cfg *config.Config, dev bool) (func(http.Handler) http.Handler, error) {
	switch {
	case cfg.JWTSecret != "":
		logger.Info("auth: jwt")
		return middleware.JWTAuth(cfg.JWTSecret), nil
	case cfg.AuthServiceURL != "":
		logger.Infof("auth: delegated to %s", cfg.AuthServiceURL)
		return middleware.AuthServiceValidate(cfg.AuthServiceURL, nil), nil
	case dev:
		logger.Info("auth: dev mode, user_id trusted as sent")
		return middleware.DevAuth, nil
	default:
		return nil, errors.New("set JWT_SECRET or AUTH_SERVICE_URL")
	}
}

func prepareDirectory(cfg *config.Config, profiles *repository.ProfileRepository, dev bool) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if cfg.ResetPresenceOnStart {
		if err := profiles.ResetOnline(ctx); err != nil {
			logger.Errorf("reset online status: %v", err)
		}
	}
	if !dev {
		return
	}
	for _, p := range cfg.DevProfiles {
		if err := profiles.Upsert(ctx, &model.Profile{ID: p.ID, UserID: p.UserID, FullName: p.FullName}); err != nil {
			logger.Errorf("seed dev profile %s: %v", p.ID, err)
		}
	}
	if len(cfg.DevProfiles) > 0 {
		logger.Infof("seeded %d dev profiles", len(cfg.DevProfiles))
	}
}

func startEmbeddedPostgres(cfg *config.Config) (*embeddedpostgres.EmbeddedPostgres, error) {
	const (
		port     = 5433
		user     = "roomchat"
		password = "roomchat_secret"
		database = "roomchat"
	)

	dataDir := filepath.Join(".", ".pgdata")
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, fmt.Errorf("create pgdata dir: %w", err)
	}

	db := embeddedpostgres.NewDatabase(embeddedpostgres.DefaultConfig().
		Port(port).
		Username(user).
		Password(password).
		Database(database).
		DataPath(dataDir).
		RuntimePath(filepath.Join(os.TempDir(), "roomchat-pg-runtime")))

	logger.Info("starting embedded PostgreSQL...")
	if err := db.Start(); err != nil {
		return nil, fmt.Errorf("start: %w", err)
	}

	cfg.Database.URL = fmt.Sprintf("postgres://%s:%s@localhost:%d/%s?sslmode=disable", user, password, port, database)
	logger.Infof("embedded PostgreSQL running on port %d", port)
	return db, nil
}
