package http

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-establishment-auth/internal/application/auth"
	"github.com/go-establishment-auth/internal/application/notification"
	"github.com/go-establishment-auth/internal/application/recovery"
	"github.com/go-establishment-auth/internal/application/session"
	"github.com/go-establishment-auth/internal/application/twofactor"
	"github.com/go-establishment-auth/internal/config"
	redisinfra "github.com/go-establishment-auth/internal/infrastructure/redis"
	"github.com/go-establishment-auth/internal/pkg/otpcode"
	"github.com/go-establishment-auth/internal/pkg/totp"
	"github.com/go-establishment-auth/internal/transport/http/handler"
	appmiddleware "github.com/go-establishment-auth/internal/transport/http/middleware"
	"golang.org/x/time/rate"
)

// NewRouter builds and returns the application router.
func NewRouter(cfg *config.Config, deps *Deps) http.Handler {
	r := chi.NewRouter()
	if cfg.TrustProxyHeaders {
		r.Use(chimiddleware.RealIP)
	}
	r.Use(chimiddleware.Logger)
	r.Use(chimiddleware.Recoverer)
	r.Use(chimiddleware.RequestID)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	// 5 requests/second, burst of 10, per RemoteAddr host.
	sensitiveRL := appmiddleware.NewRateLimiter(rate.Limit(5), 10)

	authH := handler.NewAuthHandler(newAuthService(cfg, deps))
	healthH := handler.NewHealthHandler()

	r.Route("/v1", func(r chi.Router) {
		r.Get("/health-check/{action}", healthH.Ping)

		r.Route("/auth", func(r chi.Router) {
			r.Group(func(r chi.Router) {
				r.Use(sensitiveRL.Limit)
				r.Post("/login", authH.Login)
				r.Post("/2fa/send", authH.SendCode)
				r.Post("/2fa/verify", authH.VerifyCode)
				r.Post("/refresh", authH.Refresh)
				r.Post("/logout", authH.Logout)
			})

			r.Group(func(r chi.Router) {
				r.Use(appmiddleware.Auth(deps.JWTProvider))
				r.Post("/totp/setup", authH.TotpSetup)
				r.Post("/totp/enable", authH.TotpEnable)
				r.Post("/totp/disable", authH.TotpDisable)
				r.Post("/recovery-codes/regenerate", authH.RegenerateRecoveryCodes)
			})
		})
	})

	return r
}

func newAuthService(cfg *config.Config, deps *Deps) auth.Service {
	otp := otpcode.NewEngine(cfg.BcryptCost)
	totpEngine := totp.NewEngine()

	vault := recovery.NewVault(recovery.VaultDeps{
		Store:  deps.UserRepo,
		Hasher: otp,
		Count:  cfg.RecoveryCodeCount,
		Length: cfg.RecoveryCodeLength,
	})

	orchestrator := twofactor.NewOrchestrator(twofactor.OrchestratorDeps{
		Store: deps.UserRepo,
		Notifier: notification.NewService(notification.ServiceDeps{
			Mailer:    deps.Mailer,
			SMSSender: deps.SMSSender,
		}),
		Cipher:        deps.Cipher,
		TOTP:          totpEngine,
		OTP:           otp,
		Recovery:      vault,
		OTPLength:     cfg.OTPLength,
		OTPTTL:        cfg.OTPTTL,
		NotifyTimeout: cfg.NotifyTimeout,
	})

	sessions := session.NewService(session.ServiceDeps{
		RefreshTokens: deps.RefreshTokenRepo,
		Users:         deps.UserRepo,
		Tokens:        deps.JWTProvider,
	})

	svcDeps := auth.ServiceDeps{
		Users:      deps.UserRepo,
		TwoFactor:  orchestrator,
		Sessions:   sessions,
		Tokens:     deps.JWTProvider,
		TOTP:       totpEngine,
		Cipher:     deps.Cipher,
		Recovery:   vault,
		TOTPIssuer: cfg.TOTPIssuer,
	}
	// A nil *AttemptLimiter must not reach the interface field.
	if deps.Redis != nil {
		svcDeps.Limiter = redisinfra.NewAttemptLimiter(deps.Redis, cfg.TwoFactorMaxAttempts, cfg.TwoFactorLockout)
	}
	return auth.NewService(svcDeps)
}
