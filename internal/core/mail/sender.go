package mail

import (
	"context"
	"crypto/tls"
	"fmt"

	gomail "github.com/go-mail/mail"
	"go.uber.org/zap"
)

type Message struct {
	To       string
	Subject  string
	HTMLBody string
	TextBody string
}

type Sender interface {
	Send(ctx context.Context, m Message) error
}

type SMTPSender struct {
	Host               string
	Port               int
	From               string // "Name <addr>" 或纯地址
	User               string
	Pass               string
	TLSMode            string // "auto" | "starttls" | "ssl" | "none"
	InsecureSkipVerify bool
	Log                *zap.Logger
}

func (s *SMTPSender) Send(ctx context.Context, msg Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	log := s.Log
	if log == nil {
		log = zap.NewNop()
	}
	log.Info("smtp send", zap.String("host", s.Host), zap.Int("port", s.Port),
		zap.String("to", msg.To), zap.String("subject", msg.Subject), zap.String("tls_mode", s.TLSMode))

	m := gomail.NewMessage()
	m.SetHeader("From", s.From)
	m.SetHeader("To", msg.To)
	m.SetHeader("Subject", msg.Subject)

	// 有 txt 时发 multipart/alternative
	if msg.TextBody != "" {
		m.SetBody("text/plain", msg.TextBody)
		if msg.HTMLBody != "" {
			m.AddAlternative("text/html", msg.HTMLBody)
		}
	} else {
		m.SetBody("text/html", msg.HTMLBody)
	}

	d := gomail.NewDialer(s.Host, s.Port, s.User, s.Pass)
	d.TLSConfig = &tls.Config{ServerName: s.Host, InsecureSkipVerify: s.InsecureSkipVerify}
	switch s.TLSMode {
	case "ssl":
		d.SSL = true
	case "none":
		d.StartTLSPolicy = gomail.NoStartTLS
	default:
		d.StartTLSPolicy = gomail.OpportunisticStartTLS
	}

	if err := d.DialAndSend(m); err != nil {
		log.Warn("smtp send failed", zap.String("to", msg.To), zap.Error(err))
		return fmt.Errorf("smtp send: %w", err)
	}
	return nil
}

// LogSender 未配置 SMTP 时使用：只记录日志
type LogSender struct{ Log *zap.Logger }

func (s LogSender) Send(_ context.Context, m Message) error {
	if s.Log != nil {
		s.Log.Info("mail (not sent, smtp disabled)", zap.String("to", m.To), zap.String("subject", m.Subject))
	}
	return nil
}
