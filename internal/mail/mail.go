package mail

import (
	"context"
	"fmt"
	"log/slog"
	"net/smtp"
	"sort"
	"strings"
)

// Message is the hand-off to the transactional-email collaborator: the
// service names a template and supplies its data, it never formats HTML.
type Message struct {
	To       string
	Template string
	Data     map[string]string
}

type Sender interface {
	Send(ctx context.Context, msg Message) error
}

// LogSender records the hand-off in the log instead of delivering. Default
// for the local environment and tests.
type LogSender struct {
	log *slog.Logger
}

func NewLogSender(log *slog.Logger) *LogSender {
	return &LogSender{log: log}
}

func (s *LogSender) Send(_ context.Context, msg Message) error {
	s.log.Info("mail hand-off",
		slog.String("to", msg.To),
		slog.String("template", msg.Template),
		slog.Any("data", msg.Data),
	)
	return nil
}

// SMTPSender delivers through a plain SMTP relay. The relay side owns the
// actual template rendering; the body here is the key/value hand-off.
type SMTPSender struct {
	addr string
	auth smtp.Auth
	from string
}

func NewSMTPSender(host string, port int, user, pass, from string) *SMTPSender {
	return &SMTPSender{
		addr: fmt.Sprintf("%s:%d", host, port),
		auth: smtp.PlainAuth("", user, pass, host),
		from: from,
	}
}

func (s *SMTPSender) Send(_ context.Context, msg Message) error {
	const op = "mail.SMTPSender.Send"

	var b strings.Builder
	fmt.Fprintf(&b, "From: %s\r\n", s.from)
	fmt.Fprintf(&b, "To: %s\r\n", msg.To)
	fmt.Fprintf(&b, "Subject: %s\r\n", msg.Template)
	fmt.Fprintf(&b, "X-Template: %s\r\n", msg.Template)
	b.WriteString("\r\n")

	keys := make([]string, 0, len(msg.Data))
	for k := range msg.Data {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(&b, "%s: %s\r\n", k, msg.Data[k])
	}

	if err := smtp.SendMail(s.addr, s.auth, s.from, []string{msg.To}, []byte(b.String())); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	return nil
}
