package router

import (
	appuser "github.com/oksasatya/go-user-store/internal/application"
	"github.com/oksasatya/go-user-store/internal/container"
	"github.com/oksasatya/go-user-store/internal/infrastructure/search"
	handlers "github.com/oksasatya/go-user-store/internal/interface/http"
	"github.com/oksasatya/go-user-store/internal/router/modules"
	"github.com/oksasatya/go-user-store/pkg/helpers"
	mailtpl "github.com/oksasatya/go-user-store/pkg/mailer/templates"
)

type UserModuleDeps struct {
	Service     *appuser.Service
	UserHandler *handlers.UserHandler
	AuthHandler *handlers.AuthHandler
}

// BuildService wires the user service from the container. Integrations whose
// client is absent are left out.
func BuildService() *appuser.Service {
	cfg := container.GetConfig()
	logger := container.GetLogger()

	opts := []appuser.Option{
		appuser.WithBcryptCost(cfg.BcryptCost),
		appuser.WithMailDefaults(mailtpl.EmailData{
			AppName:     cfg.AppName,
			CompanyName: cfg.CompanyName,
			SupportURL:  cfg.SupportURL,
		}),
	}
	if es := container.GetES(); es != nil {
		opts = append(opts, appuser.WithSearch(search.NewUserIndex(es, cfg.ESUsersIndex)))
	}
	if pub := container.GetRabbitPub(); pub != nil && cfg.MailSendEnabled {
		opts = append(opts, appuser.WithJobs(pub))
	}
	if gcs := container.GetGCS(); gcs != nil && cfg.GCSBucket != "" {
		opts = append(opts, appuser.WithBackups(&helpers.GCSUploader{Client: gcs, Bucket: cfg.GCSBucket}, cfg.BackupPrefix))
	}

	return appuser.NewService(container.GetUserRepo(), container.GetJWT(), logger, opts...)
}

func buildUserDeps() UserModuleDeps {
	cfg := container.GetConfig()
	logger := container.GetLogger()
	service := BuildService()

	return UserModuleDeps{
		Service:     service,
		UserHandler: handlers.NewUserHandler(service, logger),
		AuthHandler: handlers.NewAuthHandler(service, logger, cfg.CookieDomain, cfg.CookieSecure),
	}
}

// InitModules initializes all application modules and registers them with the router registry
// This function should be called once during application startup to wire up all modules
func InitModules(r *Registry) {
	deps := buildUserDeps()
	r.Add(modules.NewUserModule(deps.UserHandler, container.GetJWT(), container.GetConfig().AdminIDs()))
	r.Add(modules.NewAuthModule(deps.AuthHandler, container.GetJWT()))
	if container.GetConfig().DebugMetricsEnabled {
		r.Add(modules.NewDebugModule())
	}
}
