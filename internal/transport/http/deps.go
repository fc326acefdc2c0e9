package http

import (
	"github.com/go-establishment-auth/internal/infrastructure/dynamo"
	jwtinfra "github.com/go-establishment-auth/internal/infrastructure/jwt"
	"github.com/go-establishment-auth/internal/infrastructure/smtp"
	"github.com/go-establishment-auth/internal/infrastructure/sns"
	"github.com/go-establishment-auth/internal/pkg/secret"
	"github.com/redis/go-redis/v9"
)

// Deps holds all infrastructure dependencies for the router.
type Deps struct {
	UserRepo         *dynamo.UserRepo
	RefreshTokenRepo *dynamo.RefreshTokenRepo
	Mailer           smtp.Mailer
	SMSSender        sns.SMSSender // nil disables SMS delivery
	JWTProvider      *jwtinfra.Provider
	Cipher           *secret.Cipher
	Redis            *redis.Client // nil disables the two-factor attempt limiter
}
