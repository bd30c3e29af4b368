package main

import (
	"bytes"
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"mime"
	"mime/quotedprintable"
	"net"
	"net/mail"
	"net/smtp"
	"strings"
	"time"

	"go.uber.org/zap"
)

// OutboundMessage is the email built from one contact submission.
type OutboundMessage struct {
	FromName string
	From     string
	To       string
	ReplyTo  string
	Subject  string
	Text     string
}

// Mailer delivers outbound messages. Verify checks that the configured
// credentials are usable without sending anything.
type Mailer interface {
	Send(ctx context.Context, msg OutboundMessage) error
	Verify(ctx context.Context) error
}

var errMissingCredentials = errors.New("SMTP credentials not configured")

func newMailer(cfg MailConfig, logger *zap.Logger) (Mailer, error) {
	switch cfg.Transport {
	case transportSMTP:
		return newSMTPMailer(cfg), nil
	case transportLog:
		return &logMailer{logger: logger.Named("mailer")}, nil
	default:
		return nil, fmt.Errorf("unknown mail transport %q", cfg.Transport)
	}
}

type smtpMailer struct {
	host     string
	port     string
	user     string
	password string
}

func newSMTPMailer(cfg MailConfig) *smtpMailer {
	return &smtpMailer{
		host:     cfg.Host,
		port:     cfg.Port,
		user:     cfg.User,
		password: cfg.Password,
	}
}

func (m *smtpMailer) addr() string {
	return net.JoinHostPort(m.host, m.port)
}

// dial opens an authenticated session. Port 465 uses implicit TLS; any other
// port upgrades with STARTTLS when the server offers it.
//
// ctx bounds the whole session, not only the TCP dial: its deadline is set
// on the conn and cancelling it closes the conn. The returned release func
// detaches ctx and must be called once the session is over.
func (m *smtpMailer) dial(ctx context.Context) (*smtp.Client, func() bool, error) {
	if m.user == "" || m.password == "" {
		return nil, nil, errMissingCredentials
	}

	var (
		conn net.Conn
		err  error
	)
	if m.port == "465" {
		d := &tls.Dialer{Config: &tls.Config{ServerName: m.host}}
		conn, err = d.DialContext(ctx, "tcp", m.addr())
	} else {
		var d net.Dialer
		conn, err = d.DialContext(ctx, "tcp", m.addr())
	}
	if err != nil {
		return nil, nil, fmt.Errorf("smtp: dial %s: %w", m.addr(), err)
	}
	if deadline, ok := ctx.Deadline(); ok {
		conn.SetDeadline(deadline)
	}
	release := context.AfterFunc(ctx, func() { conn.Close() })

	fail := func(step string, err error) (*smtp.Client, func() bool, error) {
		release()
		conn.Close()
		return nil, nil, fmt.Errorf("smtp: %s: %w", step, interrupted(ctx, err))
	}

	c, err := smtp.NewClient(conn, m.host)
	if err != nil {
		return fail("greeting", err)
	}
	if ok, _ := c.Extension("STARTTLS"); ok {
		if err := c.StartTLS(&tls.Config{ServerName: m.host}); err != nil {
			return fail("starttls", err)
		}
	}
	if ok, _ := c.Extension("AUTH"); !ok {
		return fail("auth", errors.New("server doesn't support AUTH"))
	}
	if err := c.Auth(smtp.PlainAuth("", m.user, m.password, m.host)); err != nil {
		return fail("auth", err)
	}
	return c, release, nil
}

// interrupted reports ctx's error in place of the I/O error its
// cancellation caused.
func interrupted(ctx context.Context, err error) error {
	if err == nil {
		return nil
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}
	return err
}

func (m *smtpMailer) Verify(ctx context.Context) error {
	c, release, err := m.dial(ctx)
	if err != nil {
		return err
	}
	defer release()
	defer c.Close()
	return interrupted(ctx, c.Quit())
}

func (m *smtpMailer) Send(ctx context.Context, msg OutboundMessage) error {
	c, release, err := m.dial(ctx)
	if err != nil {
		return err
	}
	defer release()
	defer c.Close()

	if err := c.Mail(msg.From); err != nil {
		return fmt.Errorf("smtp: mail from: %w", interrupted(ctx, err))
	}
	if err := c.Rcpt(msg.To); err != nil {
		return fmt.Errorf("smtp: rcpt to: %w", interrupted(ctx, err))
	}
	w, err := c.Data()
	if err != nil {
		return fmt.Errorf("smtp: data: %w", interrupted(ctx, err))
	}
	if _, err := w.Write(composeMessage(msg, time.Now())); err != nil {
		return fmt.Errorf("smtp: write: %w", interrupted(ctx, err))
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("smtp: data: %w", interrupted(ctx, err))
	}
	return interrupted(ctx, c.Quit())
}

var headerBreaks = strings.NewReplacer("\r", "", "\n", "")

// composeMessage renders msg as an RFC 5322 message with a quoted-printable
// plain text body. Values that come from the submitter are stripped of line
// breaks so they cannot add headers.
func composeMessage(msg OutboundMessage, now time.Time) []byte {
	from := mail.Address{Name: headerBreaks.Replace(msg.FromName), Address: msg.From}
	to := mail.Address{Address: msg.To}

	var buf bytes.Buffer
	fmt.Fprintf(&buf, "From: %s\r\n", from.String())
	fmt.Fprintf(&buf, "To: %s\r\n", to.String())
	// The relay only checks presence, so Reply-To is dropped when the
	// submitter's address does not parse.
	if replyTo, err := mail.ParseAddress(headerBreaks.Replace(msg.ReplyTo)); err == nil {
		fmt.Fprintf(&buf, "Reply-To: %s\r\n", replyTo.String())
	}
	fmt.Fprintf(&buf, "Subject: %s\r\n", mime.QEncoding.Encode("utf-8", headerBreaks.Replace(msg.Subject)))
	fmt.Fprintf(&buf, "Date: %s\r\n", now.Format(time.RFC1123Z))
	buf.WriteString("MIME-Version: 1.0\r\n")
	buf.WriteString("Content-Type: text/plain; charset=UTF-8\r\n")
	buf.WriteString("Content-Transfer-Encoding: quoted-printable\r\n")
	buf.WriteString("\r\n")

	qp := quotedprintable.NewWriter(&buf)
	qp.Write([]byte(msg.Text))
	qp.Close()
	buf.WriteString("\r\n")
	return buf.Bytes()
}

// logMailer accepts every message and only logs its envelope. Used for local
// development without mail credentials.
type logMailer struct {
	logger *zap.Logger
}

func (l *logMailer) Send(_ context.Context, msg OutboundMessage) error {
	l.logger.Info("Mail accepted by log transport",
		zap.String("to", msg.To),
		zap.String("subject", msg.Subject),
		zap.Int("body_bytes", len(msg.Text)),
	)
	return nil
}

func (l *logMailer) Verify(context.Context) error {
	return nil
}
