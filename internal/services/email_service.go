package services

import (
	"bytes"
	"context"
	"embed"
	"errors"
	"fmt"
	"html/template"
	"log/slog"
	"strings"

	"github.com/resend/resend-go/v2"
	"github.com/sjperalta/opcost-api/internal/config"
	"github.com/sjperalta/opcost-api/pkg/logger"
)

//go:embed templates/email/*.html
var emailTemplates embed.FS

// StatementMail is one tenant statement ready to be mailed
type StatementMail struct {
	To           string
	TenantName   string
	PropertyName string
	UnitName     string
	PeriodLabel  string
	CostShare    string
	Prepayments  string
	BalanceLabel string
	Balance      string
	IsRefund     bool
	Attachment   *DocumentFile
}

// StatementMailer delivers statement mails
type StatementMailer interface {
	SendStatement(ctx context.Context, mail *StatementMail) error
}

type EmailService struct {
	config       *config.Config
	resendClient *resend.Client
}

func NewEmailService(cfg *config.Config) *EmailService {
	client := resend.NewClient(cfg.ResendAPIKey)
	return &EmailService{
		config:       cfg,
		resendClient: client,
	}
}

// checkEmailPreconditions verifies the sender configuration and the recipient
func (s *EmailService) checkEmailPreconditions(recipient, operation string) error {
	if s.config.ResendAPIKey == "" {
		logger.Warn("Email not sent, RESEND_API_KEY is not set", slog.String("operation", operation))
		return errors.New("RESEND_API_KEY is not set")
	}
	if s.config.FromEmail == "" {
		return errors.New("FROM_EMAIL is not set")
	}
	if strings.TrimSpace(recipient) == "" {
		return ErrNoRecipient
	}
	return nil
}

// SendStatement mails the statement PDF to the tenant
func (s *EmailService) SendStatement(ctx context.Context, mail *StatementMail) error {
	if err := s.checkEmailPreconditions(mail.To, "statement"); err != nil {
		return err
	}

	data := struct {
		Name         string
		PropertyName string
		UnitName     string
		PeriodLabel  string
		CostShare    string
		Prepayments  string
		BalanceLabel string
		Balance      string
		IsRefund     bool
		Sender       string
	}{
		Name:         mail.TenantName,
		PropertyName: mail.PropertyName,
		UnitName:     mail.UnitName,
		PeriodLabel:  mail.PeriodLabel,
		CostShare:    mail.CostShare,
		Prepayments:  mail.Prepayments,
		BalanceLabel: mail.BalanceLabel,
		Balance:      mail.Balance,
		IsRefund:     mail.IsRefund,
		Sender:       "Ihre Hausverwaltung",
	}

	body, err := s.renderTemplate("statement.html", data)
	if err != nil {
		return err
	}

	subject := fmt.Sprintf("Betriebskostenabrechnung %s", mail.PeriodLabel)
	params := &resend.SendEmailRequest{
		From:    s.config.FromEmail,
		To:      []string{mail.To},
		Subject: subject,
		Html:    body,
	}
	if mail.Attachment != nil {
		params.Attachments = []*resend.Attachment{{
			Content:     mail.Attachment.Data,
			Filename:    mail.Attachment.Filename,
			ContentType: "application/pdf",
		}}
	}

	sent, err := s.resendClient.Emails.SendWithContext(ctx, params)
	if err != nil {
		logger.Error("Failed to send statement email",
			slog.String("to", mail.To),
			slog.String("error", err.Error()))
		return err
	}

	logger.Info("Statement email sent",
		slog.String("to", mail.To),
		slog.String("subject", subject),
		slog.String("email_id", sent.Id))
	return nil
}

// SendTestEmail sends a plain message to verify the mail setup
func (s *EmailService) SendTestEmail(ctx context.Context, to string) error {
	if err := s.checkEmailPreconditions(to, "test"); err != nil {
		return err
	}
	params := &resend.SendEmailRequest{
		From:    s.config.FromEmail,
		To:      []string{to},
		Subject: "opcost test email",
		Html:    "<p>The mail configuration of the operating cost service works.</p>",
	}
	_, err := s.resendClient.Emails.SendWithContext(ctx, params)
	return err
}

func (s *EmailService) renderTemplate(name string, data interface{}) (string, error) {
	tmpl, err := template.ParseFS(emailTemplates, "templates/email/"+name)
	if err != nil {
		return "", fmt.Errorf("failed to parse template %s: %w", name, err)
	}

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("failed to execute template %s: %w", name, err)
	}

	return buf.String(), nil
}
