package notify

import (
	"bytes"
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"net/smtp"
	"strings"
	"time"

	"github.com/HerbHall/powerwatch/internal/config"
	"github.com/HerbHall/powerwatch/internal/watchdog"
)

// Compile-time interface guard.
var _ Sink = (*Email)(nil)

// errNoAuth is returned when credentials are configured but the server does
// not advertise AUTH.
var errNoAuth = errors.New("smtp auth: server offers no AUTH")

const (
	smtpPort  = "25"
	smtpsPort = "465"
)

// Email sends alerts over SMTP. With UseSSL the connection is TLS from the
// first byte (SMTPS); otherwise STARTTLS is used when the server offers it.
type Email struct {
	cfg       config.EmailConfig
	tlsConfig *tls.Config
}

// NewEmail creates an email sink.
func NewEmail(cfg config.EmailConfig) *Email {
	return &Email{cfg: cfg}
}

// Type returns the sink type identifier.
func (e *Email) Type() string { return "email" }

func (e *Email) addr() (host, addr string) {
	host, port, err := net.SplitHostPort(e.cfg.SMTPHost)
	if err != nil {
		host = e.cfg.SMTPHost
		port = smtpPort
		if e.cfg.UseSSL {
			port = smtpsPort
		}
	}
	return host, net.JoinHostPort(host, port)
}

func (e *Email) Send(ctx context.Context, n watchdog.Notification) error {
	host, addr := e.addr()
	tlsCfg := &tls.Config{ServerName: host, MinVersion: tls.VersionTLS12}
	if e.tlsConfig != nil {
		tlsCfg = e.tlsConfig
	}

	var conn net.Conn
	var err error
	if e.cfg.UseSSL {
		d := tls.Dialer{Config: tlsCfg}
		conn, err = d.DialContext(ctx, "tcp", addr)
	} else {
		var d net.Dialer
		conn, err = d.DialContext(ctx, "tcp", addr)
	}
	if err != nil {
		return fmt.Errorf("smtp dial %s: %w", addr, err)
	}
	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	}

	c, err := smtp.NewClient(conn, host)
	if err != nil {
		conn.Close()
		return fmt.Errorf("smtp handshake %s: %w", addr, err)
	}
	defer c.Close()

	if !e.cfg.UseSSL {
		if ok, _ := c.Extension("STARTTLS"); ok {
			if err := c.StartTLS(tlsCfg); err != nil {
				return fmt.Errorf("smtp starttls: %w", err)
			}
		}
	}

	if e.cfg.SMTPUsername != "" {
		if ok, _ := c.Extension("AUTH"); !ok {
			return errNoAuth
		}
		auth := smtp.PlainAuth("", e.cfg.SMTPUsername, e.cfg.SMTPPassword, host)
		if err := c.Auth(auth); err != nil {
			return fmt.Errorf("smtp auth: %w", err)
		}
	}

	if err := c.Mail(e.cfg.EmailFrom); err != nil {
		return fmt.Errorf("smtp MAIL FROM: %w", err)
	}
	rcpts := recipients(e.cfg.EmailTo)
	for _, r := range rcpts {
		if err := c.Rcpt(r); err != nil {
			return fmt.Errorf("smtp RCPT TO %s: %w", r, err)
		}
	}

	w, err := c.Data()
	if err != nil {
		return fmt.Errorf("smtp DATA: %w", err)
	}
	if _, err := w.Write(e.compose(n, rcpts)); err != nil {
		w.Close()
		return fmt.Errorf("smtp write: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("smtp DATA: %w", err)
	}
	return c.Quit()
}

func (e *Email) compose(n watchdog.Notification, rcpts []string) []byte {
	var b bytes.Buffer
	ts := n.Time
	if ts.IsZero() {
		ts = time.Now()
	}
	fmt.Fprintf(&b, "From: %s\r\n", e.cfg.EmailFrom)
	fmt.Fprintf(&b, "To: %s\r\n", strings.Join(rcpts, ", "))
	fmt.Fprintf(&b, "Subject: %s\r\n", Subject(n))
	fmt.Fprintf(&b, "Date: %s\r\n", ts.Format(time.RFC1123Z))
	b.WriteString("MIME-Version: 1.0\r\n")
	b.WriteString("Content-Type: text/plain; charset=utf-8\r\n")
	b.WriteString("\r\n")
	fmt.Fprintf(&b, "%s at %s\r\n", n.Subject, ts.UTC().Format(time.RFC3339))
	return b.Bytes()
}

func recipients(to string) []string {
	var out []string
	for _, r := range strings.Split(to, ",") {
		if r = strings.TrimSpace(r); r != "" {
			out = append(out, r)
		}
	}
	return out
}
