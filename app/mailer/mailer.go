package mailer

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/abasto-labs/marketplace-auth/config"

	"github.com/sirupsen/logrus"
	"gopkg.in/gomail.v2"
)

// SMTPMailer delivers verification and reset links over SMTP.
type SMTPMailer struct {
	cfg    config.MailConfig
	dialer *gomail.Dialer
}

func NewSMTPMailer(cfg config.MailConfig) *SMTPMailer {
	return &SMTPMailer{
		cfg:    cfg,
		dialer: gomail.NewDialer(cfg.SMTPHost, cfg.SMTPPort, cfg.SMTPUser, cfg.SMTPPassword),
	}
}

func (m *SMTPMailer) SendVerification(email, tokenString string) error {
	link := buildLink(m.cfg.PublicURL, m.cfg.VerifyRoute, tokenString)
	body := fmt.Sprintf("Welcome! Confirm your email address by opening this link:\r\n\r\n%s\r\n\r\nThe link expires in one hour.", link)
	return m.send(email, "Verify your email address", body)
}

func (m *SMTPMailer) SendPasswordReset(email, tokenString string) error {
	link := buildLink(m.cfg.PublicURL, m.cfg.ResetRoute, tokenString)
	body := fmt.Sprintf("A password reset was requested for your account. Open this link to choose a new password:\r\n\r\n%s\r\n\r\nIf you did not request this, you can ignore this message.", link)
	return m.send(email, "Reset your password", body)
}

func (m *SMTPMailer) send(to, subject, body string) error {
	msg := gomail.NewMessage()
	msg.SetHeader("From", m.cfg.From)
	msg.SetHeader("To", to)
	msg.SetHeader("Subject", subject)
	msg.SetBody("text/plain", body)

	return m.dialer.DialAndSend(msg)
}

// LogMailer logs delivery links instead of sending them. Used when SMTP is
// not configured (local development).
type LogMailer struct {
	cfg config.MailConfig
}

func NewLogMailer(cfg config.MailConfig) *LogMailer {
	return &LogMailer{cfg: cfg}
}

func (m *LogMailer) SendVerification(email, tokenString string) error {
	logrus.WithFields(logrus.Fields{
		"email": email,
		"link":  buildLink(m.cfg.PublicURL, m.cfg.VerifyRoute, tokenString),
	}).Info("verification email (log mailer)")
	return nil
}

func (m *LogMailer) SendPasswordReset(email, tokenString string) error {
	logrus.WithFields(logrus.Fields{
		"email": email,
		"link":  buildLink(m.cfg.PublicURL, m.cfg.ResetRoute, tokenString),
	}).Info("password reset email (log mailer)")
	return nil
}

func buildLink(base, route, tokenString string) string {
	return strings.TrimRight(base, "/") + "/" + strings.TrimLeft(route, "/") + "?token=" + url.QueryEscape(tokenString)
}
