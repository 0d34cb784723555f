package main

import (
	"context"
	"errors"
	"flag"
	"log"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"

	"github.com/oksasatya/go-user-store/config"
	appuser "github.com/oksasatya/go-user-store/internal/application"
	"github.com/oksasatya/go-user-store/internal/domain/dto"
	repo "github.com/oksasatya/go-user-store/internal/domain/repository"
	"github.com/oksasatya/go-user-store/internal/infrastructure/filestore"
	pginfra "github.com/oksasatya/go-user-store/internal/infrastructure/postgres"
	"github.com/oksasatya/go-user-store/pkg/helpers"
)

func main() {
	_ = godotenv.Load()
	cfg := config.Load()
	logger := helpers.NewLogger(cfg.AppName+"-seed", cfg.Env, cfg.LogLevel)

	name := flag.String("name", "demoUser", "name of the seeded user")
	email := flag.String("email", "demo@example.com", "email of the seeded user")
	password := flag.String("password", "password123", "plaintext password of the seeded user")
	flag.Parse()

	ctx := context.Background()
	users, closeStore, err := openStore(ctx, cfg, logger)
	if err != nil {
		log.Fatalf("failed to open user store: %v", err)
	}
	defer closeStore()

	svc := appuser.NewService(users, nil, logger, appuser.WithBcryptCost(cfg.BcryptCost))
	u, err := svc.Create(ctx, dto.CreateUserInput{Name: *name, Email: *email, Password: *password})
	switch {
	case errors.Is(err, appuser.ErrEmailTaken):
		logger.WithField("email", *email).Info("user already seeded")
	case err != nil:
		log.Fatalf("failed to seed user: %v", err)
	default:
		logger.WithFields(logrus.Fields{"id": u.ID, "email": u.Email, "name": u.Name}).Info("seeded user")
	}
}

func openStore(ctx context.Context, cfg *config.Config, logger *logrus.Logger) (repo.UserRepository, func(), error) {
	if cfg.DBDriver == config.DriverPostgres {
		pool, err := pginfra.NewPool(ctx, cfg.PostgresDSN(), cfg.DBMaxConns, cfg.DBMinConns, cfg.DBMaxConnLife)
		if err != nil {
			return nil, nil, err
		}
		if err := pginfra.RunMigrations(cfg.PostgresDSN(), cfg.MigrationsDir, logger); err != nil {
			pool.Close()
			return nil, nil, err
		}
		return pginfra.NewUserRepository(pool), pool.Close, nil
	}
	store, err := filestore.Open(cfg.DBPath, filestore.Options{ResetOnCorrupt: cfg.DBResetOnCorrupt, Logger: logger})
	if err != nil {
		return nil, nil, err
	}
	return store, func() {}, nil
}
