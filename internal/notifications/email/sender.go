// Package email provides email notification sending via SMTP.
package email

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"mime"
	"net"
	"net/smtp"
	"net/textproto"
	"strings"
	"time"

	"github.com/bissquit/jobboard-notify/internal/domain"
	"github.com/bissquit/jobboard-notify/internal/notifications"
	"github.com/bissquit/jobboard-notify/internal/queue"
	"golang.org/x/time/rate"
)

// Config holds email sender configuration.
type Config struct {
	SMTPHost      string
	SMTPPort      int
	SMTPUser      string
	SMTPPassword  string
	FromAddress   string
	RatePerSecond float64 // 0 disables rate limiting
	Burst         int
	DialTimeout   time.Duration
}

// Sender implements email notification sender via SMTP.
type Sender struct {
	config  Config
	auth    smtp.Auth
	limiter *rate.Limiter
	now     func() time.Time
}

// NewSender creates a new email sender.
func NewSender(config Config) (*Sender, error) {
	if config.SMTPHost == "" {
		return nil, errors.New("email sender: SMTP host is required")
	}
	if config.FromAddress == "" {
		return nil, errors.New("email sender: from address is required")
	}

	if config.SMTPPort == 0 {
		config.SMTPPort = 587
	}
	if config.DialTimeout == 0 {
		config.DialTimeout = 10 * time.Second
	}
	if config.Burst <= 0 {
		config.Burst = 1
	}

	var auth smtp.Auth
	if config.SMTPUser != "" && config.SMTPPassword != "" {
		auth = smtp.PlainAuth("", config.SMTPUser, config.SMTPPassword, config.SMTPHost)
	}

	limit := rate.Inf
	if config.RatePerSecond > 0 {
		limit = rate.Limit(config.RatePerSecond)
	}

	slog.Info("email sender configured",
		"smtp_host", config.SMTPHost,
		"smtp_port", config.SMTPPort,
		"from_address", config.FromAddress,
		"rate_per_second", config.RatePerSecond,
	)

	return &Sender{
		config:  config,
		auth:    auth,
		limiter: rate.NewLimiter(limit, config.Burst),
		now:     time.Now,
	}, nil
}

// Channel returns the delivery channel.
func (s *Sender) Channel() domain.DeliveryChannel {
	return domain.DeliveryChannelEmail
}

// Send delivers msg to a single recipient, waiting for the rate limiter first.
func (s *Sender) Send(ctx context.Context, msg notifications.Message) error {
	if err := s.limiter.Wait(ctx); err != nil {
		return queue.NewRetryableError(fmt.Errorf("wait for send slot: %w", err))
	}

	err := s.send(ctx, msg.To, s.buildMessage(msg))
	if err == nil {
		return nil
	}
	if IsRetryable(err) {
		return queue.NewRetryableError(err)
	}
	return queue.NewNonRetryableError(err)
}

// buildMessage constructs the email message with headers.
func (s *Sender) buildMessage(msg notifications.Message) []byte {
	var b strings.Builder

	// Headers in deterministic order
	fmt.Fprintf(&b, "From: %s\r\n", s.config.FromAddress)
	fmt.Fprintf(&b, "To: %s\r\n", msg.To)
	fmt.Fprintf(&b, "Subject: %s\r\n", mime.QEncoding.Encode("utf-8", msg.Subject))
	fmt.Fprintf(&b, "Date: %s\r\n", s.now().Format(time.RFC1123Z))
	if msg.NotificationID != "" {
		fmt.Fprintf(&b, "X-Notification-ID: %s\r\n", msg.NotificationID)
	}
	b.WriteString("MIME-Version: 1.0\r\n")
	b.WriteString("Content-Type: text/plain; charset=\"utf-8\"\r\n")
	b.WriteString("\r\n")
	b.WriteString(msg.Body)

	return []byte(b.String())
}

// send delivers one message using STARTTLS when the server offers it.
func (s *Sender) send(ctx context.Context, to string, msg []byte) error {
	addr := net.JoinHostPort(s.config.SMTPHost, fmt.Sprint(s.config.SMTPPort))

	dialer := &net.Dialer{Timeout: s.config.DialTimeout}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("dial smtp: %w", err)
	}
	defer func() { _ = conn.Close() }()

	// The dialer timeout only covers connect; bound the whole conversation too.
	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	}

	client, err := smtp.NewClient(conn, s.config.SMTPHost)
	if err != nil {
		return fmt.Errorf("create smtp client: %w", err)
	}
	defer func() { _ = client.Close() }()

	if ok, _ := client.Extension("STARTTLS"); ok {
		tlsConfig := &tls.Config{
			ServerName: s.config.SMTPHost,
			MinVersion: tls.VersionTLS12,
		}
		if err := client.StartTLS(tlsConfig); err != nil {
			return fmt.Errorf("starttls: %w", err)
		}
	}

	if s.auth != nil {
		if err := client.Auth(s.auth); err != nil {
			return fmt.Errorf("auth: %w", err)
		}
	}

	if err := client.Mail(extractEmail(s.config.FromAddress)); err != nil {
		return fmt.Errorf("mail from: %w", err)
	}
	if err := client.Rcpt(extractEmail(to)); err != nil {
		return fmt.Errorf("rcpt to: %w", err)
	}

	w, err := client.Data()
	if err != nil {
		return fmt.Errorf("data: %w", err)
	}
	if _, err := w.Write(msg); err != nil {
		return fmt.Errorf("write message: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("close data: %w", err)
	}

	return client.Quit()
}

// extractEmail extracts the email address from formats like "Name <email@example.com>".
func extractEmail(address string) string {
	if idx := strings.Index(address, "<"); idx != -1 {
		end := strings.Index(address, ">")
		if end > idx {
			return address[idx+1 : end]
		}
	}
	return address
}

// IsRetryable determines if an SMTP error is worth retrying.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	// Network failures (refused, reset, timeout) are retryable
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}

	var tpErr *textproto.Error
	if errors.As(err, &tpErr) {
		return retryableCode(tpErr.Code)
	}

	// Replies not surfaced as textproto errors still carry the code in the text.
	errStr := err.Error()
	for _, code := range []int{421, 450, 451, 452, 552} {
		if strings.Contains(errStr, fmt.Sprint(code)) {
			return true
		}
	}

	return false
}

// retryableCode reports whether an SMTP reply code is a temporary failure.
// 552 (mailbox full) is treated as temporary as well.
func retryableCode(code int) bool {
	return (code >= 400 && code < 500) || code == 552
}
