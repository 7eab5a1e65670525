package mailer

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/dohr-michael/dayflow/internal/config"
	"github.com/dohr-michael/dayflow/internal/domain"
)

func TestBuildMessageHasBothParts(t *testing.T) {
	n := &domain.Notification{
		Message:     "🔴 CRITICAL: Incident call is starting now",
		ScheduledAt: time.Date(2026, 3, 2, 10, 30, 0, 0, time.UTC),
	}
	msg := string(buildMessage("dayflow@example.com", "alice@example.com", n))

	for _, want := range []string{
		"Subject: 🔴 CRITICAL: Incident call is starting now",
		"Content-Type: multipart/alternative",
		"Content-Type: text/plain",
		"Content-Type: text/html",
		"Scheduled for 10:30.",
	} {
		if !strings.Contains(msg, want) {
			t.Errorf("message missing %q", want)
		}
	}
}

func TestBuildMessageEscapesHTML(t *testing.T) {
	n := &domain.Notification{Message: "📋 Review <q3 & q4> is starting now"}
	msg := string(buildMessage("dayflow@example.com", "alice@example.com", n))
	if !strings.Contains(msg, "&lt;q3 &amp; q4&gt;") {
		t.Errorf("html part not escaped:\n%s", msg)
	}
}

func TestSendNudgeSkipsNonAddressUsers(t *testing.T) {
	m := New(config.SMTPConfig{Host: "localhost", Port: 2525}, nil)
	err := m.SendNudge(context.Background(), "alice", &domain.Notification{Message: "📋 x is starting now"})
	if err != nil {
		t.Fatalf("non-address user should be a no-op, got %v", err)
	}
}
