package services

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/ses"
	"github.com/aws/aws-sdk-go-v2/service/ses/types"
)

// WelcomeMailer defines the interface for sending the welcome notification
// to auto-provisioned accounts
type WelcomeMailer interface {
	SendWelcome(ctx context.Context, email string) error
}

// AWSSESEmailService sends emails using AWS SES
type AWSSESEmailService struct {
	sesClient   *ses.Client
	fromAddress string
	siteName    string
	logger      *slog.Logger
}

// NewAWSSESEmailService creates a new AWS SES email service
func NewAWSSESEmailService(region, fromAddress, siteName string, logger *slog.Logger) (*AWSSESEmailService, error) {
	cfg, err := awsconfig.LoadDefaultConfig(context.Background(), awsconfig.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	return &AWSSESEmailService{
		sesClient:   ses.NewFromConfig(cfg),
		fromAddress: fromAddress,
		siteName:    siteName,
		logger:      logger,
	}, nil
}

// SendWelcome sends the welcome notification for a newly provisioned account
func (s *AWSSESEmailService) SendWelcome(ctx context.Context, email string) error {
	htmlBody := fmt.Sprintf(`
<!DOCTYPE html>
<html>
<body>
    <p>Welcome to %s!</p>
    <p>Your mail account <strong>%s</strong> has been created. You are
    signed in through your organization's identity provider; no separate
    password is needed.</p>
    <p>This is an automated message. Please do not reply.</p>
</body>
</html>
`, s.siteName, email)

	textBody := fmt.Sprintf(`Welcome to %s!

Your mail account %s has been created. You are signed in through your
organization's identity provider; no separate password is needed.

This is an automated message. Please do not reply.
`, s.siteName, email)

	input := &ses.SendEmailInput{
		Source: aws.String(s.fromAddress),
		Destination: &types.Destination{
			ToAddresses: []string{email},
		},
		Message: &types.Message{
			Subject: &types.Content{
				Data:    aws.String(fmt.Sprintf("Welcome to %s", s.siteName)),
				Charset: aws.String("UTF-8"),
			},
			Body: &types.Body{
				Html: &types.Content{
					Data:    aws.String(htmlBody),
					Charset: aws.String("UTF-8"),
				},
				Text: &types.Content{
					Data:    aws.String(textBody),
					Charset: aws.String("UTF-8"),
				},
			},
		},
	}

	if _, err := s.sesClient.SendEmail(ctx, input); err != nil {
		return fmt.Errorf("failed to send welcome email: %w", err)
	}

	s.logger.Info("welcome email sent")
	return nil
}

// NoopMailer satisfies WelcomeMailer when outbound email is disabled
type NoopMailer struct {
	logger *slog.Logger
}

// NewNoopMailer creates a mailer that only logs
func NewNoopMailer(logger *slog.Logger) *NoopMailer {
	return &NoopMailer{logger: logger}
}

func (m *NoopMailer) SendWelcome(ctx context.Context, email string) error {
	m.logger.Info("welcome email skipped (disabled)")
	return nil
}
