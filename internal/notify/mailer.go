// Package notify delivers best-effort transactional messages. Nothing in this
// package ever propagates a failure to the operation that triggered it.
package notify

import (
	"context"
	"fmt"

	mail "github.com/wneessen/go-mail"
	"go.uber.org/zap"
)

// Message is one outbound transactional message.
type Message struct {
	Recipient string
	Subject   string
	Body      string
}

// Mailer delivers a single message.
type Mailer interface {
	Send(ctx context.Context, message Message) error
}

// LogMailer records deliveries in the log instead of sending them. Used when
// SMTP is not configured, typically in development.
type LogMailer struct {
	logger *zap.Logger
}

// NewLogMailer constructs a mailer that only logs.
func NewLogMailer(logger *zap.Logger) *LogMailer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogMailer{logger: logger}
}

// Send logs the message and reports success.
func (m *LogMailer) Send(_ context.Context, message Message) error {
	m.logger.Info("mail delivery skipped, smtp disabled",
		zap.String("recipient", message.Recipient),
		zap.String("subject", message.Subject))
	return nil
}

// SMTPConfig configures the SMTP mailer.
type SMTPConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
}

// SMTPMailer delivers messages over authenticated SMTP.
type SMTPMailer struct {
	config SMTPConfig
}

// NewSMTPMailer constructs an SMTP mailer.
func NewSMTPMailer(cfg SMTPConfig) (*SMTPMailer, error) {
	if cfg.Host == "" {
		return nil, fmt.Errorf("notify: smtp host required")
	}
	if cfg.From == "" {
		return nil, fmt.Errorf("notify: smtp from address required")
	}
	return &SMTPMailer{config: cfg}, nil
}

// Send delivers one message, dialing per call. Session notifications are rare
// enough that connection reuse is not worth a pooled client.
func (m *SMTPMailer) Send(ctx context.Context, message Message) error {
	msg := mail.NewMsg()
	if err := msg.From(m.config.From); err != nil {
		return fmt.Errorf("notify: from address: %w", err)
	}
	if err := msg.To(message.Recipient); err != nil {
		return fmt.Errorf("notify: recipient address: %w", err)
	}
	msg.Subject(message.Subject)
	msg.SetBodyString(mail.TypeTextPlain, message.Body)

	options := []mail.Option{mail.WithPort(m.config.Port)}
	if m.config.Username != "" {
		options = append(options,
			mail.WithSMTPAuth(mail.SMTPAuthPlain),
			mail.WithUsername(m.config.Username),
			mail.WithPassword(m.config.Password),
		)
	}
	client, err := mail.NewClient(m.config.Host, options...)
	if err != nil {
		return fmt.Errorf("notify: smtp client: %w", err)
	}
	return client.DialAndSendWithContext(ctx, msg)
}
