package notification

import (
	"context"
	"fmt"

	"github.com/go-establishment-auth/internal/domain"
	"github.com/go-establishment-auth/internal/infrastructure/smtp"
	"github.com/go-establishment-auth/internal/infrastructure/sns"
)

const codeSubject = "Your verification code"

// Service delivers one-time codes over the channel the user picked.
type Service interface {
	SendCode(ctx context.Context, method domain.TwoFactorMethod, destination, code string) error
}

type ServiceDeps struct {
	Mailer    smtp.Mailer
	SMSSender sns.SMSSender
}

type service struct {
	mailer    smtp.Mailer
	smsSender sns.SMSSender
}

func NewService(deps ServiceDeps) Service {
	return &service{mailer: deps.Mailer, smsSender: deps.SMSSender}
}

func (s *service) SendCode(ctx context.Context, method domain.TwoFactorMethod, destination, code string) error {
	if destination == "" {
		return fmt.Errorf("no %s destination: %w", method, domain.ErrBadRequest)
	}
	switch method {
	case domain.MethodEmail:
		return s.mailer.SendEmail(ctx, destination, codeSubject, emailBody(code))
	case domain.MethodSMS:
		if s.smsSender == nil {
			return fmt.Errorf("sms delivery not configured: %w", domain.ErrBadRequest)
		}
		return s.smsSender.SendSMS(ctx, destination, smsBody(code))
	default:
		return fmt.Errorf("method %q cannot deliver codes: %w", method, domain.ErrBadRequest)
	}
}

func emailBody(code string) string {
	return fmt.Sprintf("Your verification code is %s.\r\n\r\nIt expires shortly. If you did not try to sign in, change your password.", code)
}

func smsBody(code string) string {
	return fmt.Sprintf("Your verification code is %s", code)
}
