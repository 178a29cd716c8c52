package main

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/wayroute/authd/internal/db"
	"github.com/wayroute/authd/internal/handlers"
	"github.com/wayroute/authd/internal/logger"
	"github.com/wayroute/authd/internal/repository/postgres"
	"github.com/wayroute/authd/internal/service/apikey"
	"github.com/wayroute/authd/internal/service/session"
	"github.com/wayroute/authd/internal/service/twofactor"
)

type ServerApp struct {
	ListenAddr string
	Handler    http.Handler

	logger logger.Logger
}

func NewServerApp(ctx context.Context, c *Config) (*ServerApp, error) {
	// Initialize logger
	log, err := logger.New(c.Environment, c.LogLevel)
	if err != nil {
		return nil, fmt.Errorf("error while initializing logger. Err: %w", err)
	}

	// Connect to the database and run migrations
	pool, err := db.ConnectAndMigrate(ctx, c.DatabaseDSN)
	if err != nil {
		return nil, fmt.Errorf("error while connecting to db. Err: %w", err)
	}

	// Initialize repositories
	storage := postgres.NewStorage(pool)

	// Initialize services
	sessionService, err := session.NewService(session.Config{
		SecretKey:     c.SecretKey,
		AccessTTL:     c.AccessTokenTTL,
		RefreshTTL:    c.RefreshTokenTTL,
		DefaultScopes: c.DefaultScopes,
	}, storage, log)
	if err != nil {
		return nil, fmt.Errorf("error while creating session service. Err: %w", err)
	}

	twoFactorService, err := twofactor.NewService(twofactor.Config{
		Issuer: c.TwoFactorIssuer,
	}, storage, log)
	if err != nil {
		return nil, fmt.Errorf("error while creating twofactor service. Err: %w", err)
	}

	apiKeyService, err := apikey.NewService(storage, log)
	if err != nil {
		return nil, fmt.Errorf("error while creating apikey service. Err: %w", err)
	}

	mux := handlers.NewRouter(
		sessionService,
		twoFactorService,
		apiKeyService,
		c.APIKeyScopes,
		log,
	)

	return &ServerApp{
		ListenAddr: c.ListenAddr,
		Handler:    mux,
		logger:     log,
	}, nil
}

// Run starts http server and closes gracefully on context cancellation
func (s *ServerApp) Run(ctx context.Context) error {
	httpServer := &http.Server{
		Addr:    s.ListenAddr,
		Handler: s.Handler,
	}

	idleConnsClosed := make(chan struct{})
	srvCtx, srvCtxCancel := context.WithCancel(ctx)
	defer srvCtxCancel()

	go func() {
		<-srvCtx.Done()

		timeoutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		if err := httpServer.Shutdown(timeoutCtx); err == context.DeadlineExceeded {
			s.logger.Error("HTTP server shutdown timeout exceeded, forcing shutdown")
		}
		s.logger.Info("HTTP server stopped")
		close(idleConnsClosed)
	}()

	// Listen and serve until context is cancelled; then close gracefully connections
	s.logger.Info("Starting server", "addr", s.ListenAddr)
	err := httpServer.ListenAndServe()
	srvCtxCancel()
	<-idleConnsClosed

	return err
}
