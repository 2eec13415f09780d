// Package email sends account and response notification mail over SMTP.
package email

import (
	"bytes"
	"errors"
	"fmt"
	"html/template"
	"net/smtp"
	"strings"
	"time"
)

type Config struct {
	Host     string
	Port     string
	Username string
	Password string
	From     string
	FromName string
}

// ErrNotConfigured is returned by every send when SMTP is disabled.
var ErrNotConfigured = errors.New("email not configured")

type Service struct {
	config Config
	server string
	auth   smtp.Auth
	send   func(addr string, a smtp.Auth, from string, to []string, msg []byte) error
}

func NewService(config Config) *Service {
	var auth smtp.Auth
	if config.Username != "" {
		auth = smtp.PlainAuth("", config.Username, config.Password, config.Host)
	}
	return &Service{
		config: config,
		server: config.Host + ":" + config.Port,
		auth:   auth,
		send:   smtp.SendMail,
	}
}

func (s *Service) IsConfigured() bool {
	return s.config.Host != "" && s.config.Port != "" && s.config.From != ""
}

// SendHTML sends a multipart message with a plain-text fallback part.
func (s *Service) SendHTML(to []string, subject, plain, htmlBody string) error {
	if !s.IsConfigured() {
		return ErrNotConfigured
	}
	if len(to) == 0 {
		return fmt.Errorf("send %q: no recipients", subject)
	}

	from := s.config.From
	if s.config.FromName != "" {
		from = fmt.Sprintf("%s <%s>", s.config.FromName, s.config.From)
	}
	boundary := fmt.Sprintf("formdeck-%d", time.Now().UnixNano())

	var msg bytes.Buffer
	fmt.Fprintf(&msg, "To: %s\r\n", strings.Join(to, ", "))
	fmt.Fprintf(&msg, "From: %s\r\n", from)
	fmt.Fprintf(&msg, "Subject: %s\r\n", subject)
	fmt.Fprintf(&msg, "MIME-Version: 1.0\r\n")
	fmt.Fprintf(&msg, "Content-Type: multipart/alternative; boundary=%q\r\n\r\n", boundary)
	fmt.Fprintf(&msg, "--%s\r\nContent-Type: text/plain; charset=UTF-8\r\n\r\n%s\r\n\r\n", boundary, plain)
	fmt.Fprintf(&msg, "--%s\r\nContent-Type: text/html; charset=UTF-8\r\n\r\n%s\r\n\r\n", boundary, htmlBody)
	fmt.Fprintf(&msg, "--%s--\r\n", boundary)

	if err := s.send(s.server, s.auth, s.config.From, to, msg.Bytes()); err != nil {
		return fmt.Errorf("send %q: %w", subject, err)
	}
	return nil
}

type linkData struct {
	UserName string
	URL      string
}

func (s *Service) SendVerificationEmail(to, userName, verificationURL string) error {
	body, err := render(verificationTemplate, linkData{UserName: userName, URL: verificationURL})
	if err != nil {
		return fmt.Errorf("render verification email: %w", err)
	}
	plain := "Verify your Formdeck account: " + verificationURL
	return s.SendHTML([]string{to}, "Verify your Formdeck account", plain, body)
}

func (s *Service) SendPasswordResetEmail(to, userName, resetURL string) error {
	body, err := render(passwordResetTemplate, linkData{UserName: userName, URL: resetURL})
	if err != nil {
		return fmt.Errorf("render password reset email: %w", err)
	}
	plain := "Reset your Formdeck password: " + resetURL
	return s.SendHTML([]string{to}, "Reset your Formdeck password", plain, body)
}

// Answer is one label and formatted value in a response notification.
type Answer struct {
	Label string
	Value string
}

type ResponseNotice struct {
	FormTitle    string
	SubmittedAt  time.Time
	Answers      []Answer
	ResponsesURL string
}

// SendResponseNotification tells a form's notify address about a new response.
func (s *Service) SendResponseNotification(to string, notice ResponseNotice) error {
	body, err := render(responseTemplate, notice)
	if err != nil {
		return fmt.Errorf("render response email: %w", err)
	}
	var plain strings.Builder
	fmt.Fprintf(&plain, "New response to %s\n\n", notice.FormTitle)
	for _, answer := range notice.Answers {
		fmt.Fprintf(&plain, "%s: %s\n", answer.Label, answer.Value)
	}
	fmt.Fprintf(&plain, "\n%s\n", notice.ResponsesURL)
	return s.SendHTML([]string{to}, "New response: "+notice.FormTitle, plain.String(), body)
}

func render(tmpl *template.Template, data any) (string, error) {
	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}

const layoutHead = `<!DOCTYPE html>
<html>
<head>
    <meta charset="UTF-8">
    <style>
        body { font-family: -apple-system, 'Segoe UI', Roboto, sans-serif; line-height: 1.6; color: #222; max-width: 600px; margin: 0 auto; padding: 20px; }
        .button { display: inline-block; padding: 10px 20px; background: #4b3fd6; color: #fff; text-decoration: none; border-radius: 4px; }
        table { border-collapse: collapse; width: 100%; }
        th, td { text-align: left; padding: 6px 8px; border-bottom: 1px solid #eee; vertical-align: top; }
        .muted { color: #777; font-size: 12px; }
    </style>
</head>
<body>
`

var verificationTemplate = template.Must(template.New("verify").Parse(layoutHead + `
    <h2>Welcome to Formdeck, {{.UserName}}</h2>
    <p>Confirm your email address to start building forms.</p>
    <p><a class="button" href="{{.URL}}">Verify email</a></p>
    <p class="muted">The link expires in 24 hours. {{.URL}}</p>
</body>
</html>`))

var passwordResetTemplate = template.Must(template.New("reset").Parse(layoutHead + `
    <h2>Password reset</h2>
    <p>Hi {{.UserName}}, use the link below to choose a new password.</p>
    <p><a class="button" href="{{.URL}}">Reset password</a></p>
    <p class="muted">The link expires in 1 hour. If you did not ask for this, ignore this email.</p>
</body>
</html>`))

var responseTemplate = template.Must(template.New("response").Parse(layoutHead + `
    <h2>New response to {{.FormTitle}}</h2>
    <p class="muted">Submitted {{.SubmittedAt.UTC.Format "2006-01-02 15:04 MST"}}</p>
    <table>
    {{range .Answers}}<tr><th>{{.Label}}</th><td>{{.Value}}</td></tr>
    {{end}}</table>
    <p><a class="button" href="{{.ResponsesURL}}">View all responses</a></p>
</body>
</html>`))
