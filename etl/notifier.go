package etl

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/oarkflow/log"
	"github.com/oarkflow/mail"
	"github.com/oarkflow/smpp"
)

// EmailAlertConfig describes the SMTP channel for run alerts.
type EmailAlertConfig struct {
	Mail       mail.Config
	Recipients []string
}

// SMSAlertConfig describes the SMPP channel for run alerts.
type SMSAlertConfig struct {
	Setting smpp.Setting
	From    string
	To      []string
}

// Notifier pushes terminal run status to out-of-band channels. Channels
// are independent and optional; send failures are logged, never returned,
// so alerting can never change a run's outcome.
type Notifier struct {
	email         *EmailAlertConfig
	sms           *SMSAlertConfig
	onFailureOnly bool
	logger        *log.Logger

	smppMu     sync.Mutex
	smppClient *smpp.Manager
}

type NotifierOption func(*Notifier)

func WithEmailAlerts(cfg EmailAlertConfig) NotifierOption {
	return func(n *Notifier) {
		n.email = &cfg
	}
}

func WithSMSAlerts(cfg SMSAlertConfig) NotifierOption {
	return func(n *Notifier) {
		n.sms = &cfg
	}
}

// OnFailureOnly suppresses alerts for completed runs.
func OnFailureOnly() NotifierOption {
	return func(n *Notifier) {
		n.onFailureOnly = true
	}
}

func NewNotifier(logger *log.Logger, opts ...NotifierOption) *Notifier {
	if logger == nil {
		logger = &log.DefaultLogger
	}
	n := &Notifier{logger: logger}
	for _, opt := range opts {
		opt(n)
	}
	return n
}

// RunFinished reports a finalized execution on every configured channel.
func (n *Notifier) RunFinished(pipelineName string, exec Execution) {
	if n == nil {
		return
	}
	if n.onFailureOnly && exec.Status != StatusFailed {
		return
	}
	headline := fmt.Sprintf("pipeline %q %s", pipelineName, exec.Status)
	if n.email != nil {
		n.sendEmail(headline, exec)
	}
	if n.sms != nil {
		n.sendSMS(headline, exec.ID)
	}
}

func (n *Notifier) sendEmail(headline string, exec Execution) {
	var sb strings.Builder
	sb.WriteString(headline)
	sb.WriteString("\n\n")
	fmt.Fprintf(&sb, "execution: %s\n", exec.ID)
	fmt.Fprintf(&sb, "started: %s\n", exec.StartedAt.Format(time.RFC3339))
	if exec.FinishedAt != nil {
		fmt.Fprintf(&sb, "finished: %s\n", exec.FinishedAt.Format(time.RFC3339))
	}
	if exec.Error != "" {
		fmt.Fprintf(&sb, "error: %s\n", exec.Error)
	}

	mailer := mail.New(n.email.Mail, nil)
	err := mailer.Send(mail.Mail{
		From: n.email.Mail.FromAddress,
		To:   n.email.Recipients,
		Body: sb.String(),
	})
	if err != nil {
		n.logger.Error().Str("execution", exec.ID).Err(err).Msg("run alert email failed")
	}
}

func (n *Notifier) sendSMS(headline, executionID string) {
	client, err := n.smppManager()
	if err != nil {
		n.logger.Error().Str("execution", executionID).Err(err).Msg("run alert sms connect failed")
		return
	}
	for _, to := range n.sms.To {
		msg := smpp.Message{
			Message: headline,
			To:      to,
			From:    n.sms.From,
		}
		if _, err := client.Send(msg); err != nil {
			n.logger.Error().Str("execution", executionID).Str("to", to).Err(err).Msg("run alert sms failed")
		}
	}
}

func (n *Notifier) smppManager() (*smpp.Manager, error) {
	n.smppMu.Lock()
	defer n.smppMu.Unlock()
	if n.smppClient != nil {
		return n.smppClient, nil
	}
	client, err := smpp.NewManager(n.sms.Setting)
	if err != nil {
		return nil, err
	}
	n.smppClient = client
	return client, nil
}
