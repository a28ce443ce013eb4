package services

import (
	"context"
	"encoding/json"
	"fmt"
	"html"
	"net/smtp"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"chatbot-backend/internal/models"
)

// Mailer sends transactional mail.
type Mailer interface {
	SendPremiumReceipt(to, amount, currency, orderID string, premiumUntil time.Time) error
	SendMembershipExpired(to string, expiredAt time.Time) error
}

type EmailService struct {
	host        string
	port        string
	user        string
	pass        string
	from        string
	frontendURL string
	devMode     bool
}

func NewEmailService(host, port, user, pass, from, frontendURL string) *EmailService {
	devMode := host == "" || user == ""
	if devMode {
		log.Warn().Msg("email service running in dev mode, messages are logged instead of sent")
	}
	return &EmailService{
		host:        host,
		port:        port,
		user:        user,
		pass:        pass,
		from:        from,
		frontendURL: frontendURL,
		devMode:     devMode,
	}
}

const emailLayout = `<!DOCTYPE html>
<html>
<head><meta charset="utf-8"></head>
<body style="font-family: 'Segoe UI', Arial, sans-serif; margin: 0; padding: 0; background-color: #f8fafc;">
  <div style="max-width: 480px; margin: 40px auto; background: white; border-radius: 12px; box-shadow: 0 4px 24px rgba(0,0,0,0.08); overflow: hidden;">
    <div style="background: #18181b; padding: 24px; text-align: center;">
      <h1 style="color: white; margin: 0; font-size: 22px; font-weight: 700;">Chatbot</h1>
    </div>
    <div style="padding: 32px;">
      <h2 style="margin: 0 0 16px; font-size: 20px; color: #1e293b;">%s</h2>
      %s
      <a href="%s" style="display: inline-block; background: #18181b; color: white; text-decoration: none; padding: 12px 32px; border-radius: 8px; font-weight: 600; font-size: 14px;">
        %s
      </a>
    </div>
  </div>
</body>
</html>`

func paragraph(text string) string {
	return `<p style="color: #64748b; font-size: 14px; line-height: 1.6; margin: 0 0 24px;">` + text + `</p>`
}

func (s *EmailService) SendPremiumReceipt(to, amount, currency, orderID string, premiumUntil time.Time) error {
	subject := "Your Premium membership is active"
	body := fmt.Sprintf(emailLayout,
		"Thanks for upgrading!",
		paragraph(fmt.Sprintf("We received your payment of <strong>%s %s</strong> (order %s).",
			html.EscapeString(amount), html.EscapeString(currency), html.EscapeString(orderID)))+
			paragraph(fmt.Sprintf("Premium is active until <strong>%s</strong>. You can now send up to 200 messages per day.",
				premiumUntil.UTC().Format("January 2, 2006"))),
		s.frontendURL,
		"Start chatting",
	)
	return s.sendHTML(to, subject, body)
}

func (s *EmailService) SendMembershipExpired(to string, expiredAt time.Time) error {
	subject := "Your Premium membership has ended"
	body := fmt.Sprintf(emailLayout,
		"Premium has ended",
		paragraph(fmt.Sprintf("Your Premium membership ended on <strong>%s</strong> and your account is back on the regular plan.",
			expiredAt.UTC().Format("January 2, 2006")))+
			paragraph("You can renew at any time to get your higher daily message limit back."),
		s.frontendURL+"/?show=payment",
		"Renew Premium",
	)
	return s.sendHTML(to, subject, body)
}

// Process runs a queued email job.
func (s *EmailService) Process(ctx context.Context, job *models.Job) error {
	var cfg models.EmailJobConfig
	if err := json.Unmarshal(job.ConfigJSON, &cfg); err != nil {
		return fmt.Errorf("invalid email job config: %w", err)
	}

	switch cfg.Kind {
	case models.EmailKindPremiumReceipt:
		until := time.Now()
		if cfg.PremiumUntil != nil {
			until = *cfg.PremiumUntil
		}
		return s.SendPremiumReceipt(cfg.To, cfg.Amount, cfg.Currency, cfg.OrderID, until)
	case models.EmailKindPremiumExpired:
		expired := time.Now()
		if cfg.PremiumUntil != nil {
			expired = *cfg.PremiumUntil
		}
		return s.SendMembershipExpired(cfg.To, expired)
	default:
		return fmt.Errorf("unknown email kind: %s", cfg.Kind)
	}
}

func (s *EmailService) sendHTML(to, subject, htmlBody string) error {
	if s.devMode {
		log.Info().Str("to", to).Str("subject", subject).Msg("[dev email]")
		log.Debug().Str("to", to).Msg(htmlBody)
		return nil
	}

	headers := []string{
		fmt.Sprintf("From: %s", s.from),
		fmt.Sprintf("To: %s", to),
		fmt.Sprintf("Subject: %s", subject),
		"MIME-Version: 1.0",
		"Content-Type: text/html; charset=UTF-8",
	}

	message := strings.Join(headers, "\r\n") + "\r\n\r\n" + htmlBody

	auth := smtp.PlainAuth("", s.user, s.pass, s.host)
	addr := fmt.Sprintf("%s:%s", s.host, s.port)

	err := smtp.SendMail(addr, auth, s.from, []string{to}, []byte(message))
	if err != nil {
		return fmt.Errorf("failed to send email to %s: %w", to, err)
	}

	log.Info().Str("to", to).Str("subject", subject).Msg("email sent")
	return nil
}
