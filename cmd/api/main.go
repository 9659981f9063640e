package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/notevault/server/internal/auth"
	"github.com/notevault/server/internal/config"
	"github.com/notevault/server/internal/db"
	httphandler "github.com/notevault/server/internal/http"
	"github.com/notevault/server/internal/http/handlers"
	"github.com/notevault/server/internal/logger"
	"github.com/notevault/server/internal/mail"
	"github.com/notevault/server/internal/repo"
)

func main() {
	// Load .env from CWD or server/ so it works from repo root or server/ (env vars override)
	_ = godotenv.Load(".env")
	_ = godotenv.Load("server/.env")

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	log := logger.New(os.Stdout, cfg.LogFormat, cfg.LogLevel)
	if err := run(cfg, log); err != nil {
		log.Error("server stopped", logger.Error(err))
		os.Exit(1)
	}
}

func run(cfg config.Config, log *slog.Logger) error {
	ctx := context.Background()

	st, err := openStores(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer st.close()

	sender, err := newSender(cfg.Mail, log)
	if err != nil {
		return err
	}

	// Initialize auth services
	jwtService := auth.NewJWTService(cfg.JWTSecret, cfg.SessionTTL)
	codeIssuer := auth.NewCodeIssuer(st.challenges, sender, cfg.OTPTTL, log)
	authService := auth.NewService(codeIssuer, jwtService, st.users, st.challenges, auth.WithLogger(log))

	var google auth.ProfileProvider
	if cfg.Google.Enabled() {
		google = auth.NewGoogleProvider(cfg.Google.ClientID, cfg.Google.ClientSecret, cfg.Google.CallbackURL)
	} else {
		log.Warn("google sign-in disabled: GOOGLE_CLIENT_ID, GOOGLE_CLIENT_SECRET or GOOGLE_CALLBACK_URL not set")
	}

	authHandler := handlers.NewAuthHandler(authService, google, cfg.FrontendURL, log,
		handlers.WithSecureCookies(cfg.Google.SecureCookies()))
	notesHandler := handlers.NewNotesHandler(st.notes, log)
	router := httphandler.NewRouter(authHandler, notesHandler, jwtService, cfg.CORSOrigins)

	janitorCtx, stopJanitor := context.WithCancel(ctx)
	defer stopJanitor()
	go auth.NewJanitor(st.challenges, cfg.JanitorInterval, log).Run(janitorCtx)

	// Create HTTP server with timeouts
	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		log.Info("server starting", slog.String("port", cfg.Port), slog.String("store", cfg.StoreDriver))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	// Wait for interrupt signal to gracefully shutdown the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case err := <-serveErr:
		return fmt.Errorf("server failed to start: %w", err)
	case <-quit:
	}

	log.Info("shutting down server")
	stopJanitor()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}

	log.Info("server exited")
	return nil
}

type stores struct {
	users      repo.UserRepo
	challenges repo.ChallengeRepo
	notes      repo.NoteRepo
	close      func()
}

func openStores(ctx context.Context, cfg config.Config, log *slog.Logger) (*stores, error) {
	switch cfg.StoreDriver {
	case config.StorePostgres:
		database, err := db.Open(ctx, cfg.DatabaseURL, log)
		if err != nil {
			return nil, err
		}
		if err := db.Migrate(ctx, database, log); err != nil {
			_ = database.Close()
			return nil, err
		}
		return &stores{
			users:      repo.NewUserRepo(database),
			challenges: repo.NewChallengeRepo(database),
			notes:      repo.NewNoteRepo(database),
			close:      func() { _ = database.Close() },
		}, nil

	case config.StoreMongo:
		client, database, err := db.OpenMongo(ctx, cfg.Mongo.URI, cfg.Mongo.Database, log)
		if err != nil {
			return nil, err
		}
		if err := repo.EnsureMongoIndexes(ctx, database); err != nil {
			_ = client.Disconnect(context.Background())
			return nil, err
		}
		return &stores{
			users:      repo.NewMongoUserRepo(database),
			challenges: repo.NewMongoChallengeRepo(database),
			notes:      repo.NewMongoNoteRepo(database),
			close: func() {
				disconnectCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				_ = client.Disconnect(disconnectCtx)
			},
		}, nil

	case config.StoreMemory:
		log.Warn("using in-memory store: data is lost on restart")
		return &stores{
			users:      repo.NewMemoryUserRepo(),
			challenges: repo.NewMemoryChallengeRepo(),
			notes:      repo.NewMemoryNoteRepo(),
			close:      func() {},
		}, nil
	}
	return nil, fmt.Errorf("unknown store driver %q", cfg.StoreDriver)
}

func newSender(cfg config.MailConfig, log *slog.Logger) (mail.Sender, error) {
	switch cfg.Driver {
	case config.MailPostmark:
		return mail.NewPostmarkSender(cfg.PostmarkServerToken, cfg.PostmarkAccountToken, cfg.From)
	case config.MailLog:
		log.Warn("mail driver is log: sign-in codes are written to the log, not delivered")
		return mail.NewLogSender(log), nil
	}
	return nil, fmt.Errorf("unknown mail driver %q", cfg.Driver)
}
