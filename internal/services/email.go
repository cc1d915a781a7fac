// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package services

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"mime"
	"net"
	"net/mail"
	"net/smtp"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/jeranaias/aicli/internal/tools"
	"github.com/jeranaias/aicli/internal/util"
)

// EmailConfig configures send_email. Mail always goes to Destination;
// Sender defaults to it.
type EmailConfig struct {
	Server      string
	Port        int
	Username    string
	Password    string
	Sender      string
	Destination string
	Timeout     time.Duration
}

// Mailer sends plain-text mail over SMTP. STARTTLS is used when the server
// offers it; credentials are only sent when both are set.
type Mailer struct {
	cfg EmailConfig
	log logrus.FieldLogger
	now func() time.Time
}

// NewMailer returns a mailer for cfg.
func NewMailer(cfg EmailConfig, log logrus.FieldLogger) *Mailer {
	if cfg.Port <= 0 {
		cfg.Port = 25
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Mailer{cfg: cfg, log: log, now: time.Now}
}

// Configured reports whether a server and destination are set.
func (m *Mailer) Configured() bool {
	return m.cfg.Server != "" && m.cfg.Destination != ""
}

func (m *Mailer) addresses() (from, to *mail.Address, err error) {
	if !m.Configured() {
		return nil, nil, notConfigured("email", "set email.smtp_server and email.destination")
	}
	to, err = mail.ParseAddress(m.cfg.Destination)
	if err != nil {
		return nil, nil, &HandlerError{Kind: KindNotConfigured, Service: "email", Msg: "invalid destination address", Err: err}
	}
	sender := m.cfg.Sender
	if sender == "" {
		sender = m.cfg.Destination
	}
	from, err = mail.ParseAddress(sender)
	if err != nil {
		return nil, nil, &HandlerError{Kind: KindNotConfigured, Service: "email", Msg: "invalid sender address", Err: err}
	}
	return from, to, nil
}

// Send delivers one message and returns a confirmation line.
func (m *Mailer) Send(ctx context.Context, subject, body string) (string, error) {
	from, to, err := m.addresses()
	if err != nil {
		return "", err
	}

	addr := net.JoinHostPort(m.cfg.Server, strconv.Itoa(m.cfg.Port))
	log := m.log.WithFields(logrus.Fields{"server": addr, "to": to.Address})

	d := net.Dialer{Timeout: m.cfg.Timeout}
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return "", &HandlerError{Kind: KindNetwork, Service: "email", Msg: "connect " + addr, Err: err}
	}
	deadline := time.Now().Add(m.cfg.Timeout)
	if dl, ok := ctx.Deadline(); ok && dl.Before(deadline) {
		deadline = dl
	}
	_ = conn.SetDeadline(deadline)

	c, err := smtp.NewClient(conn, m.cfg.Server)
	if err != nil {
		conn.Close()
		return "", sendFailed("greeting", err)
	}
	defer c.Close()

	if ok, _ := c.Extension("STARTTLS"); ok {
		if err := c.StartTLS(&tls.Config{ServerName: m.cfg.Server, MinVersion: tls.VersionTLS12}); err != nil {
			return "", sendFailed("starttls", err)
		}
	}
	if m.cfg.Username != "" && m.cfg.Password != "" {
		if err := c.Auth(smtp.PlainAuth("", m.cfg.Username, m.cfg.Password, m.cfg.Server)); err != nil {
			return "", sendFailed("auth", err)
		}
	}
	if err := c.Mail(from.Address); err != nil {
		return "", sendFailed("MAIL FROM", err)
	}
	if err := c.Rcpt(to.Address); err != nil {
		return "", sendFailed("RCPT TO", err)
	}
	w, err := c.Data()
	if err != nil {
		return "", sendFailed("DATA", err)
	}
	if _, err := w.Write(m.compose(from, to, subject, body)); err != nil {
		return "", sendFailed("write", err)
	}
	if err := w.Close(); err != nil {
		return "", sendFailed("DATA", err)
	}
	_ = c.Quit()

	log.WithField("subject", subject).Info("email sent")
	return fmt.Sprintf("Email sent to %s via %s", to.Address, m.cfg.Server), nil
}

// compose builds the RFC 5322 message. Line endings are normalized by the
// SMTP data writer.
func (m *Mailer) compose(from, to *mail.Address, subject, body string) []byte {
	host := "aicli"
	if i := strings.LastIndexByte(from.Address, '@'); i >= 0 {
		host = from.Address[i+1:]
	}
	var sb strings.Builder
	fmt.Fprintf(&sb, "From: %s\r\n", from.String())
	fmt.Fprintf(&sb, "To: %s\r\n", to.String())
	fmt.Fprintf(&sb, "Subject: %s\r\n", mime.QEncoding.Encode("utf-8", subject))
	fmt.Fprintf(&sb, "Date: %s\r\n", m.now().Format(time.RFC1123Z))
	fmt.Fprintf(&sb, "Message-ID: <%s@%s>\r\n", uuid.NewString(), host)
	sb.WriteString("MIME-Version: 1.0\r\n")
	sb.WriteString("Content-Type: text/plain; charset=UTF-8\r\n")
	sb.WriteString("Content-Transfer-Encoding: 8bit\r\n\r\n")
	sb.WriteString(body)
	if !strings.HasSuffix(body, "\n") {
		sb.WriteString("\r\n")
	}
	return []byte(sb.String())
}

func sendFailed(step string, err error) error {
	return &HandlerError{Kind: KindSendFailed, Service: "email", Msg: step, Err: err}
}

// EmailArgs are the arguments of send_email.
type EmailArgs struct {
	Subject string `json:"subject" jsonschema:"minLength=1" jsonschema_description:"Subject line."`
	Body    string `json:"body" jsonschema:"minLength=1" jsonschema_description:"Plain-text message body."`
}

// EmailTool is send_email. Its arguments come from the conversation, so
// it is ambiguous and the user sees the message before it goes out.
func EmailTool(m *Mailer) tools.ToolSpec {
	spec := tools.NewTool("send_email",
		"Send a plain-text email to the user's configured address.",
		tools.TierAmbiguous,
		func(ctx context.Context, args EmailArgs) (string, error) {
			return m.Send(ctx, args.Subject, args.Body)
		})
	spec.Summarize = func(_ context.Context, raw json.RawMessage) string {
		var args EmailArgs
		_ = json.Unmarshal(raw, &args)
		to := m.cfg.Destination
		if to == "" {
			to = "(no destination configured)"
		}
		body, dropped := util.TruncateBytes(args.Body, 2000)
		if dropped > 0 {
			body += fmt.Sprintf("\n[%d more bytes]", dropped)
		}
		return fmt.Sprintf("send email to %s\nSubject: %s\n\n%s", to, args.Subject, body)
	}
	return spec
}
