package email

import (
	"fmt"
	"html"
	"net/smtp"
	"sync"
	"time"

	"ai-rivu-backend/config"
	"ai-rivu-backend/model"

	"github.com/rs/zerolog/log"
)

// DefaultCooldown is the minimum gap between two alerts for one identity
const DefaultCooldown = 24 * time.Hour

// SendFunc matches smtp.SendMail
type SendFunc func(addr string, a smtp.Auth, from string, to []string, msg []byte) error

// Notifier sends quota alerts to the support contact. It subscribes to the
// activity log and mails asynchronously, so appends never wait on SMTP.
type Notifier struct {
	cfg      config.EmailConfig
	to       string
	send     SendFunc
	cooldown time.Duration
	now      func() time.Time

	mu       sync.Mutex
	notified map[string]time.Time
	wg       sync.WaitGroup
}

// Option configures a Notifier
type Option func(*Notifier)

// WithSender replaces smtp.SendMail
func WithSender(send SendFunc) Option {
	return func(n *Notifier) {
		n.send = send
	}
}

// WithClock replaces time.Now
func WithClock(now func() time.Time) Option {
	return func(n *Notifier) {
		n.now = now
	}
}

// NewNotifier creates a notifier mailing contactEmail
func NewNotifier(cfg config.EmailConfig, contactEmail string, opts ...Option) *Notifier {
	n := &Notifier{
		cfg:      cfg,
		to:       contactEmail,
		send:     smtp.SendMail,
		cooldown: DefaultCooldown,
		now:      time.Now,
		notified: make(map[string]time.Time),
	}
	for _, opt := range opts {
		opt(n)
	}
	return n
}

// OnEvent alerts on Quota Exceeded events, at most once per identity per cooldown
func (n *Notifier) OnEvent(e model.ActivityEvent) {
	if e.EffectiveKind() != model.KindQuotaExceeded {
		return
	}

	now := n.now()
	n.mu.Lock()
	n.pruneLocked(now)
	if last, ok := n.notified[e.Identity]; ok && now.Sub(last) < n.cooldown {
		n.mu.Unlock()
		return
	}
	n.notified[e.Identity] = now
	n.mu.Unlock()

	if !n.cfg.Enabled || n.to == "" {
		log.Info().Str("identity", e.Identity).Msg("Quota exceeded (email alerts disabled)")
		return
	}

	n.wg.Add(1)
	go func() {
		defer n.wg.Done()
		n.SendQuotaExceeded(e)
	}()
}

// pruneLocked forgets identities whose cooldown has elapsed
func (n *Notifier) pruneLocked(now time.Time) {
	for identity, last := range n.notified {
		if now.Sub(last) >= n.cooldown {
			delete(n.notified, identity)
		}
	}
}

// Wait blocks until in-flight alerts are sent
func (n *Notifier) Wait() {
	n.wg.Wait()
}

// SendQuotaExceeded mails the contact address about one identity
func (n *Notifier) SendQuotaExceeded(e model.ActivityEvent) error {
	subject := fmt.Sprintf("Paper quota exceeded: %s", e.Identity)
	body := fmt.Sprintf(`
<!DOCTYPE html>
<html>
<head>
    <style>
        body { font-family: Arial, sans-serif; line-height: 1.6; color: #333; }
        .container { max-width: 600px; margin: 0 auto; padding: 20px; }
        .info-table { width: 100%%; border-collapse: collapse; }
        .info-table td { padding: 10px; border-bottom: 1px solid #e5e7eb; }
        .info-table td:first-child { font-weight: 600; width: 120px; }
    </style>
</head>
<body>
    <div class="container">
        <h1>Paper quota exceeded</h1>
        <table class="info-table">
            <tr><td>User:</td><td>%s</td></tr>
            <tr><td>Used:</td><td>%v</td></tr>
            <tr><td>Limit:</td><td>%v</td></tr>
            <tr><td>Time:</td><td>%s</td></tr>
        </table>
        <p>Reset the user's counters from the admin API to restore their quota.</p>
    </div>
</body>
</html>
`, html.EscapeString(e.Identity), e.Detail["used"], e.Detail["limit"], e.Timestamp.UTC().Format(time.RFC1123))

	return n.sendEmail(n.to, subject, body)
}

// sendEmail sends an email using SMTP
func (n *Notifier) sendEmail(to, subject, body string) error {
	from := fmt.Sprintf("%s <%s>", n.cfg.FromName, n.cfg.FromEmail)

	msg := []byte(fmt.Sprintf(
		"From: %s\r\n"+
			"To: %s\r\n"+
			"Subject: %s\r\n"+
			"MIME-Version: 1.0\r\n"+
			"Content-Type: text/html; charset=UTF-8\r\n"+
			"\r\n"+
			"%s\r\n",
		from, to, subject, body,
	))

	var auth smtp.Auth
	if n.cfg.Username != "" {
		auth = smtp.PlainAuth("", n.cfg.Username, n.cfg.Password, n.cfg.SMTPHost)
	}
	addr := fmt.Sprintf("%s:%s", n.cfg.SMTPHost, n.cfg.SMTPPort)

	if err := n.send(addr, auth, n.cfg.FromEmail, []string{to}, msg); err != nil {
		log.Error().Err(err).Str("to", to).Msg("Failed to send email")
		return err
	}

	log.Info().Str("to", to).Str("subject", subject).Msg("Email sent successfully")
	return nil
}
