package profileauth

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/url"
	"strconv"
	"strings"

	"github.com/wneessen/go-mail"
)

// EmailSender delivers password reset emails. Implementations must honor
// ctx cancellation.
type EmailSender interface {
	SendPasswordResetEmail(ctx context.Context, to, token string) error
}

// ResetLink builds the link mailed to the user.
func ResetLink(baseURL, token string) string {
	return strings.TrimSuffix(baseURL, "/") + "/reset-password?token=" + url.QueryEscape(token)
}

// ConsoleEmailSender logs emails instead of sending them. For development.
type ConsoleEmailSender struct {
	BaseURL string
	Logger  *slog.Logger
}

func (c *ConsoleEmailSender) SendPasswordResetEmail(ctx context.Context, to, token string) error {
	logger := c.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger.InfoContext(ctx, "EMAIL: password reset",
		"to", to,
		"subject", "Reset your password",
		"link", ResetLink(c.BaseURL, token))
	return nil
}

// SMTPEmailSender sends mail through an SMTP relay, upgrading to STARTTLS
// when the relay offers it. Username enables PLAIN auth.
type SMTPEmailSender struct {
	Addr     string // host:port
	Username string
	Password string
	From     string
	BaseURL  string
}

func (s *SMTPEmailSender) SendPasswordResetEmail(ctx context.Context, to, token string) error {
	host, portStr, err := net.SplitHostPort(s.Addr)
	if err != nil {
		return fmt.Errorf("smtp address %q: %w", s.Addr, err)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return fmt.Errorf("smtp port %q: %w", portStr, err)
	}

	msg := mail.NewMsg()
	if err := msg.From(s.From); err != nil {
		return fmt.Errorf("smtp from %q: %w", s.From, err)
	}
	if err := msg.To(to); err != nil {
		return fmt.Errorf("smtp to %q: %w", to, err)
	}
	msg.Subject("Reset your password")
	msg.SetBodyString(mail.TypeTextPlain, strings.Join([]string{
		"Someone asked to reset the password for your account.",
		"If it was you, open this link within the hour:",
		"",
		ResetLink(s.BaseURL, token),
		"",
		"If it was not you, ignore this email.",
	}, "\n"))

	opts := []mail.Option{
		mail.WithTLSPortPolicy(mail.TLSOpportunistic),
		mail.WithPort(port),
		mail.WithDialContextFunc(dialBoundTo(ctx)),
	}
	if s.Username != "" {
		opts = append(opts,
			mail.WithSMTPAuth(mail.SMTPAuthPlain),
			mail.WithUsername(s.Username),
			mail.WithPassword(s.Password))
	}
	client, err := mail.NewClient(host, opts...)
	if err != nil {
		return fmt.Errorf("smtp client: %w", err)
	}
	return client.DialAndSendWithContext(ctx, msg)
}

// dialBoundTo dials connections that die with ctx. The deadline covers
// every read and write, and cancellation closes the socket.
func dialBoundTo(ctx context.Context) mail.DialContextFunc {
	return func(dialCtx context.Context, network, addr string) (net.Conn, error) {
		var d net.Dialer
		conn, err := d.DialContext(dialCtx, network, addr)
		if err != nil {
			return nil, err
		}
		if deadline, ok := ctx.Deadline(); ok {
			conn.SetDeadline(deadline)
		}
		stop := context.AfterFunc(ctx, func() { conn.Close() })
		return &boundConn{Conn: conn, stop: stop}, nil
	}
}

type boundConn struct {
	net.Conn
	stop func() bool
}

func (c *boundConn) Close() error {
	c.stop()
	return c.Conn.Close()
}
