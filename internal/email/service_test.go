package email

import (
	"errors"
	"net/smtp"
	"strings"
	"testing"
	"time"
)

func TestServiceIsConfigured(t *testing.T) {
	tests := []struct {
		name     string
		config   Config
		expected bool
	}{
		{name: "empty config", config: Config{}, expected: false},
		{name: "missing host", config: Config{Port: "587", From: "forms@example.com"}, expected: false},
		{name: "missing port", config: Config{Host: "smtp.example.com", From: "forms@example.com"}, expected: false},
		{name: "missing from", config: Config{Host: "smtp.example.com", Port: "587"}, expected: false},
		{name: "fully configured", config: Config{Host: "smtp.example.com", Port: "587", From: "forms@example.com"}, expected: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := NewService(tt.config).IsConfigured(); got != tt.expected {
				t.Fatalf("IsConfigured() = %v, want %v", got, tt.expected)
			}
		})
	}
}

type sentMail struct {
	addr string
	to   []string
	msg  string
}

func capturingService(t *testing.T) (*Service, *[]sentMail) {
	t.Helper()
	svc := NewService(Config{Host: "smtp.example.com", Port: "587", From: "forms@example.com", FromName: "Formdeck"})
	var sent []sentMail
	svc.send = func(addr string, _ smtp.Auth, _ string, to []string, msg []byte) error {
		sent = append(sent, sentMail{addr: addr, to: to, msg: string(msg)})
		return nil
	}
	return svc, &sent
}

func TestSendResponseNotification(t *testing.T) {
	svc, sent := capturingService(t)
	err := svc.SendResponseNotification("owner@example.com", ResponseNotice{
		FormTitle:    "Event <RSVP>",
		SubmittedAt:  time.Date(2026, 3, 1, 9, 30, 0, 0, time.UTC),
		Answers:      []Answer{{Label: "Name", Value: "Ada"}, {Label: "Guests", Value: "2"}},
		ResponsesURL: "https://forms.example.com/forms/frm_1/responses",
	})
	if err != nil {
		t.Fatalf("SendResponseNotification() error = %v", err)
	}
	if len(*sent) != 1 {
		t.Fatalf("sent %d messages", len(*sent))
	}
	mail := (*sent)[0]
	if mail.addr != "smtp.example.com:587" || mail.to[0] != "owner@example.com" {
		t.Fatalf("unexpected envelope: %+v", mail)
	}
	for _, want := range []string{
		"Subject: New response: Event <RSVP>",
		"From: Formdeck <forms@example.com>",
		"Guests: 2",
		"<th>Name</th><td>Ada</td>",
		"Event &lt;RSVP&gt;",
		"2026-03-01 09:30 UTC",
	} {
		if !strings.Contains(mail.msg, want) {
			t.Fatalf("message missing %q:\n%s", want, mail.msg)
		}
	}
}

func TestAccountEmailsCarryLinks(t *testing.T) {
	svc, sent := capturingService(t)
	if err := svc.SendVerificationEmail("a@example.com", "Ada", "https://x/verify?token=abc"); err != nil {
		t.Fatalf("SendVerificationEmail() error = %v", err)
	}
	if err := svc.SendPasswordResetEmail("a@example.com", "Ada", "https://x/reset?token=def"); err != nil {
		t.Fatalf("SendPasswordResetEmail() error = %v", err)
	}
	if !strings.Contains((*sent)[0].msg, "token=abc") || !strings.Contains((*sent)[1].msg, "token=def") {
		t.Fatalf("links missing from messages")
	}
}

func TestSendFailsWhenNotConfigured(t *testing.T) {
	svc := NewService(Config{})
	if err := svc.SendVerificationEmail("a@example.com", "Ada", "u"); !errors.Is(err, ErrNotConfigured) {
		t.Fatalf("error = %v, want ErrNotConfigured", err)
	}
}
