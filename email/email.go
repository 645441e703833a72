package email

import (
	"fmt"
	"strings"

	"visualize-backend/config"

	"github.com/sirupsen/logrus"
	"gopkg.in/gomail.v2"
)

// Mailer sends the transactional notices over SMTP.
type Mailer struct {
	from   string
	appURL string
	send   func(*gomail.Message) error
	log    logrus.FieldLogger
}

// NewMailer returns nil when SMTP is not configured.
func NewMailer(cfg config.SMTPConfig, appURL string, log logrus.FieldLogger) *Mailer {
	if !cfg.Enabled() {
		return nil
	}
	from := cfg.From
	if from == "" {
		from = cfg.User
	}
	d := gomail.NewDialer(cfg.Host, cfg.Port, cfg.User, cfg.Pass)
	return &Mailer{
		from:   from,
		appURL: strings.TrimRight(appURL, "/"),
		send:   func(m *gomail.Message) error { return d.DialAndSend(m) },
		log:    log,
	}
}

func (m *Mailer) deliver(to, subject, body, kind string) error {
	if strings.TrimSpace(to) == "" {
		return fmt.Errorf("email %s: empty recipient", kind)
	}
	msg := gomail.NewMessage()
	msg.SetHeader("From", m.from)
	msg.SetHeader("To", to)
	msg.SetHeader("Subject", subject)
	msg.SetBody("text/plain", body)
	if err := m.send(msg); err != nil {
		return fmt.Errorf("email %s: %w", kind, err)
	}
	m.log.WithField("kind", kind).Info("[email] sent")
	return nil
}

// SendReferralReward tells a referrer that a friend joined with their code.
func (m *Mailer) SendReferralReward(to string) error {
	body := fmt.Sprintf(`Someone just joined using your referral link, so you've earned an extra free session.

Open the app to use it: %s/categories
`, m.appURL)
	return m.deliver(to, "You earned a free session", body, "referral_reward")
}

// SendCreditsRestored tells a free user their weekly sessions are available again.
func (m *Mailer) SendCreditsRestored(to string) error {
	body := fmt.Sprintf(`Your free visualization sessions for this week are ready.

Pick up where you left off: %s/categories
`, m.appURL)
	return m.deliver(to, "Your free sessions are back", body, "credits_restored")
}
