package notification

import (
	"context"
	"errors"
	"testing"

	"github.com/go-establishment-auth/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
)

type mockMailer struct{ mock.Mock }

func (m *mockMailer) SendEmail(ctx context.Context, to, subject, body string) error {
	return m.Called(ctx, to, subject, body).Error(0)
}

type mockSMSSender struct{ mock.Mock }

func (m *mockSMSSender) SendSMS(ctx context.Context, to, msg string) error {
	return m.Called(ctx, to, msg).Error(0)
}

func TestSendCode_Email(t *testing.T) {
	ml := &mockMailer{}
	ml.On("SendEmail", mock.Anything, "ada@example.com", codeSubject, mock.MatchedBy(func(b string) bool {
		return assert.Contains(t, b, "123456")
	})).Return(nil)

	svc := NewService(ServiceDeps{Mailer: ml, SMSSender: &mockSMSSender{}})
	assert.NoError(t, svc.SendCode(context.Background(), domain.MethodEmail, "ada@example.com", "123456"))
	ml.AssertExpectations(t)
}

func TestSendCode_SMS(t *testing.T) {
	sms := &mockSMSSender{}
	sms.On("SendSMS", mock.Anything, "+15550100", "Your verification code is 654321").Return(errors.New("throttled"))

	svc := NewService(ServiceDeps{Mailer: &mockMailer{}, SMSSender: sms})
	err := svc.SendCode(context.Background(), domain.MethodSMS, "+15550100", "654321")
	assert.EqualError(t, err, "throttled")
}

func TestSendCode_RejectsTOTPAndEmptyDestination(t *testing.T) {
	svc := NewService(ServiceDeps{Mailer: &mockMailer{}, SMSSender: &mockSMSSender{}})
	assert.ErrorIs(t, svc.SendCode(context.Background(), domain.MethodTOTP, "x", "1"), domain.ErrBadRequest)
	assert.ErrorIs(t, svc.SendCode(context.Background(), domain.MethodEmail, "", "1"), domain.ErrBadRequest)
}

func TestSendCode_SMSNotConfigured(t *testing.T) {
	svc := NewService(ServiceDeps{Mailer: &mockMailer{}})
	assert.ErrorIs(t, svc.SendCode(context.Background(), domain.MethodSMS, "+15550100", "1"), domain.ErrBadRequest)
}
