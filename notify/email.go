// Package notify reports failed executions by email.
package notify

import (
	"encoding/json"
	"fmt"

	"github.com/sendgrid/sendgrid-go"
	"github.com/sendgrid/sendgrid-go/helpers/mail"
	"go.uber.org/zap"

	"carscout/models"
)

type EmailConfig struct {
	APIKey string
	From   string
	To     string
}

func (c EmailConfig) Enabled() bool {
	return c.APIKey != "" && c.From != "" && c.To != ""
}

// EmailReporter sends a failure digest for runs that finished with
// errors. It is best-effort; delivery failures are logged, never fatal.
type EmailReporter struct {
	cfg    EmailConfig
	client *sendgrid.Client
	logger *zap.Logger
}

func NewEmailReporter(cfg EmailConfig, logger *zap.Logger) *EmailReporter {
	return &EmailReporter{
		cfg:    cfg,
		client: sendgrid.NewSendClient(cfg.APIKey),
		logger: logger,
	}
}

// ReportErrors emails the failed rows of a finished job together with the
// job payload for reproduction.
func (r *EmailReporter) ReportErrors(job *models.JobPayload, failed []models.ExecutionResult) error {
	if len(failed) == 0 {
		return nil
	}

	payloadJSON, _ := json.MarshalIndent(job, "", "  ")
	errorsJSON, _ := json.MarshalIndent(failed, "", "  ")

	subject := fmt.Sprintf("Script %s finished with errors", job.Script())
	body := fmt.Sprintf(`<html>
  <body>
    <h2>%s</h2>
    <p><strong>Results:</strong></p>
    <pre>%s</pre>
    <p><strong>Payload:</strong></p>
    <pre>%s</pre>
  </body>
</html>`, subject, errorsJSON, payloadJSON)

	message := mail.NewSingleEmail(
		mail.NewEmail("", r.cfg.From),
		subject,
		mail.NewEmail("", r.cfg.To),
		"",
		body,
	)

	resp, err := r.client.Send(message)
	if err != nil {
		return fmt.Errorf("send report: %w", err)
	}
	if resp.StatusCode >= 400 {
		return fmt.Errorf("send report: status %d", resp.StatusCode)
	}

	r.logger.Info("error report sent", zap.String("to", r.cfg.To), zap.Int("failures", len(failed)))
	return nil
}
