package extract

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/dohr-michael/dayflow/internal/provider"
)

const mailSystemPrompt = `You extract actionable tasks from emails.
Respond with a single JSON object:
{"is_actionable": <bool>, "title": "<imperative task title>", "description": "<one sentence>", "due": "<RFC3339 timestamp or empty>", "priority": "low|normal|high"}.
An email is actionable when it asks the recipient to do something concrete. Newsletters, receipts, and FYI threads are not actionable.`

type mailExtraction struct {
	IsActionable bool   `json:"is_actionable"`
	Title        string `json:"title"`
	Description  string `json:"description"`
	Due          string `json:"due"`
	Priority     string `json:"priority"`
}

// actionableRe is the rule fallback when no model is available or the model
// call fails: explicit urgency markers or a "by <date>" deadline.
var actionableRe = regexp.MustCompile(`(?i)\b(urgent|asap|critical|eod|by\s+(monday|tuesday|wednesday|thursday|friday|saturday|sunday|tomorrow|\d{1,2}[/-]\d{1,2}))\b`)

// MailTask is the normalized result of mail extraction.
type MailTask struct {
	Title       string
	Description string
	Due         time.Time
	Priority    string
}

// ExtractMailTask decides whether a message is actionable and shapes the
// task if so. ok is false for non-actionable mail.
func (e *Extractor) ExtractMailTask(ctx context.Context, msg *provider.MailMessage) (MailTask, bool) {
	if e.llm != nil {
		prompt := fmt.Sprintf("From: %s\nReceived: %s\nSubject: %s\n\n%s",
			msg.From, msg.ReceivedAt.Format(time.RFC3339), msg.Subject, firstN(msg.Body, 4000))
		var resp mailExtraction
		if err := e.llm.ChatJSON(ctx, mailSystemPrompt, prompt, &resp); err == nil {
			if !resp.IsActionable {
				return MailTask{}, false
			}
			out := MailTask{
				Title:       strings.TrimSpace(resp.Title),
				Description: strings.TrimSpace(resp.Description),
				Priority:    resp.Priority,
			}
			if out.Title == "" {
				out.Title = msg.Subject
			}
			if due, err := time.Parse(time.RFC3339, resp.Due); err == nil {
				out.Due = due
			}
			return out, true
		}
	}

	// Rule fallback.
	text := msg.Subject + "\n" + msg.Snippet + "\n" + msg.Body
	if !actionableRe.MatchString(text) {
		return MailTask{}, false
	}
	return MailTask{
		Title:       msg.Subject,
		Description: firstN(strings.TrimSpace(msg.Snippet), 280),
		Priority:    string(PriorityFromText(msg.Subject, msg.Body)),
	}, true
}
