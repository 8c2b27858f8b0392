package mailer

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"gopkg.in/gomail.v2"
)

// DefaultSubject is used when SMTPConfig.Subject is empty.
const DefaultSubject = "Your sign-in code"

// SMTPConfig configures the SMTP mailer.
type SMTPConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
	Subject  string
}

type dialer interface {
	DialAndSend(m ...*gomail.Message) error
}

// SMTP sends sign-in codes by email.
type SMTP struct {
	dialer  dialer
	from    string
	subject string
}

func NewSMTP(cfg SMTPConfig) (*SMTP, error) {
	if cfg.Host == "" || cfg.Port <= 0 {
		return nil, errors.New("mailer: smtp host and port required")
	}
	if cfg.From == "" {
		return nil, errors.New("mailer: from address required")
	}
	return newSMTP(gomail.NewDialer(cfg.Host, cfg.Port, cfg.Username, cfg.Password), cfg), nil
}

func newSMTP(d dialer, cfg SMTPConfig) *SMTP {
	subject := cfg.Subject
	if subject == "" {
		subject = DefaultSubject
	}
	return &SMTP{dialer: d, from: cfg.From, subject: subject}
}

// SendSignInCode mails code to email. gomail has no context support, so ctx
// is only checked before dialing.
func (s *SMTP) SendSignInCode(ctx context.Context, email, code string, ttl time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	m := gomail.NewMessage()
	m.SetHeader("From", s.from)
	m.SetHeader("To", email)
	m.SetHeader("Subject", s.subject)
	m.SetBody("text/plain", body(code, ttl))

	if err := s.dialer.DialAndSend(m); err != nil {
		return fmt.Errorf("failed to send sign-in code: %w", err)
	}
	return nil
}

func body(code string, ttl time.Duration) string {
	return fmt.Sprintf(
		"Your sign-in code is %s\n\nIt expires in %d minutes. If you did not try to sign in, you can ignore this email.\n",
		code, int(ttl.Round(time.Minute)/time.Minute),
	)
}

// Log writes codes to a logger instead of sending them.
type Log struct {
	logger *zap.Logger
}

func NewLog(logger *zap.Logger) *Log {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Log{logger: logger}
}

func (l *Log) SendSignInCode(_ context.Context, email, code string, ttl time.Duration) error {
	l.logger.Info("sign-in code",
		zap.String("email", email),
		zap.String("code", code),
		zap.Duration("ttl", ttl),
	)
	return nil
}
