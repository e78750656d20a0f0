package services

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/ses"
	"github.com/aws/aws-sdk-go-v2/service/ses/types"

	"github.com/BradenHooton/sessionguard/internal/models"
	pkglogger "github.com/BradenHooton/sessionguard/pkg/logger"
)

// ResetNotifier delivers a reset link to the account owner
type ResetNotifier interface {
	SendPasswordReset(ctx context.Context, req *models.ResetRequest) error
}

// SESAPI is the subset of the SES client used for sending
type SESAPI interface {
	SendEmail(ctx context.Context, params *ses.SendEmailInput, optFns ...func(*ses.Options)) (*ses.SendEmailOutput, error)
}

// SESResetNotifier sends reset emails using AWS SES
type SESResetNotifier struct {
	client      SESAPI
	fromAddress string
	resetURL    string
	logger      *slog.Logger
}

// NewSESResetNotifier loads the default AWS config for region and builds an SES client
func NewSESResetNotifier(ctx context.Context, region, fromAddress, resetURL string, logger *slog.Logger) (*SESResetNotifier, error) {
	cfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}
	return NewSESResetNotifierWithClient(ses.NewFromConfig(cfg), fromAddress, resetURL, logger), nil
}

func NewSESResetNotifierWithClient(client SESAPI, fromAddress, resetURL string, logger *slog.Logger) *SESResetNotifier {
	return &SESResetNotifier{
		client:      client,
		fromAddress: fromAddress,
		resetURL:    resetURL,
		logger:      logger,
	}
}

// ResetLink builds the link a user follows to set a new password
func ResetLink(base, token string) string {
	return base + "?token=" + url.QueryEscape(token)
}

func greeting(firstName string) string {
	if firstName == "" {
		return "Hello,"
	}
	return fmt.Sprintf("Hello %s,", firstName)
}

// SendPasswordReset emails the reset link to req.Email
func (n *SESResetNotifier) SendPasswordReset(ctx context.Context, req *models.ResetRequest) error {
	link := ResetLink(n.resetURL, req.Token)
	validFor := time.Until(req.ExpiresAt).Round(time.Minute)

	htmlBody := fmt.Sprintf(`
<!DOCTYPE html>
<html>
<head>
    <meta charset="UTF-8">
    <style>
        body { font-family: Arial, sans-serif; line-height: 1.6; color: #333; }
        .container { max-width: 600px; margin: 0 auto; padding: 20px; }
        .button { display: inline-block; background-color: #0066cc; color: white; padding: 12px 24px; text-decoration: none; border-radius: 4px; margin: 20px 0; }
        .footer { color: #666; font-size: 12px; margin-top: 20px; padding-top: 20px; border-top: 1px solid #eee; }
    </style>
</head>
<body>
    <div class="container">
        <p>%s</p>
        <p>We received a request to reset the password for your account. Use the link below to choose a new one:</p>
        <p><a href="%s" class="button">Reset Password</a></p>
        <p>The link works once and expires in %s. Signing in again will be required on every device.</p>
        <p>If you did not ask for this, you can ignore this email and your password will stay the same.</p>
        <div class="footer">
            <p>This is an automated message. Please do not reply to this email.</p>
        </div>
    </div>
</body>
</html>
`, greeting(req.FirstName), link, validFor)

	textBody := fmt.Sprintf(`%s

We received a request to reset the password for your account. Open this link to choose a new one:

%s

The link works once and expires in %s. Signing in again will be required on every device.

If you did not ask for this, you can ignore this email and your password will stay the same.
`, greeting(req.FirstName), link, validFor)

	input := &ses.SendEmailInput{
		Source: aws.String(n.fromAddress),
		Destination: &types.Destination{
			ToAddresses: []string{req.Email},
		},
		Message: &types.Message{
			Subject: &types.Content{Data: aws.String("Reset your password")},
			Body: &types.Body{
				Html: &types.Content{Data: aws.String(htmlBody)},
				Text: &types.Content{Data: aws.String(textBody)},
			},
		},
	}

	result, err := n.client.SendEmail(ctx, input)
	if err != nil {
		n.logger.Error("failed to send reset email via SES",
			slog.String("email", pkglogger.SanitizedEmail(req.Email)),
			slog.Any("error", err))
		return fmt.Errorf("failed to send email: %w", err)
	}

	n.logger.Info("reset email sent",
		slog.String("email", pkglogger.SanitizedEmail(req.Email)),
		slog.String("message_id", aws.ToString(result.MessageId)))
	return nil
}

// LogResetNotifier writes the reset link to the log. The link is redacted
// in production, so this is for development only.
type LogResetNotifier struct {
	resetURL string
	env      string
	logger   *slog.Logger
}

func NewLogResetNotifier(resetURL, env string, logger *slog.Logger) *LogResetNotifier {
	return &LogResetNotifier{resetURL: resetURL, env: env, logger: logger}
}

func (n *LogResetNotifier) SendPasswordReset(ctx context.Context, req *models.ResetRequest) error {
	n.logger.InfoContext(ctx, "password reset link issued",
		slog.String("email", pkglogger.SanitizedEmail(req.Email)),
		pkglogger.RedactedAttr("link", ResetLink(n.resetURL, req.Token), n.env),
		slog.Time("expires_at", req.ExpiresAt))
	return nil
}
