package services

import (
	"fmt"
	"html"

	"gopkg.in/gomail.v2"

	"taskhub/internal/config"
)

type EmailService interface {
	SendWelcomeEmail(email, username string) error
}

type emailService struct {
	dialer *gomail.Dialer
	from   string
}

// NewEmailService returns nil when SMTP is not configured.
func NewEmailService(cfg config.EmailConfig) EmailService {
	if !cfg.Enabled() {
		return nil
	}
	dialer := gomail.NewDialer(cfg.SMTPHost, cfg.SMTPPort, cfg.SMTPUser, cfg.SMTPPassword)
	return &emailService{
		dialer: dialer,
		from:   cfg.FromEmail,
	}
}

func welcomeMessage(from, to, username string) *gomail.Message {
	m := gomail.NewMessage()
	m.SetHeader("From", from)
	m.SetHeader("To", to)
	m.SetHeader("Subject", "Welcome to TaskHub!")

	body := fmt.Sprintf(`
		<h2>Welcome to TaskHub, %s!</h2>
		<p>Your account has been successfully created.</p>
		<p>You can now sign in and start tracking tasks with your team.</p>
	`, html.EscapeString(username))

	m.SetBody("text/html", body)
	return m
}

func (s *emailService) SendWelcomeEmail(email, username string) error {
	if err := s.dialer.DialAndSend(welcomeMessage(s.from, email, username)); err != nil {
		return fmt.Errorf("failed to send welcome email: %w", err)
	}
	return nil
}
