package llm

import (
	"context"
	"encoding/json"
	"math/rand/v2"
	"strings"
	"time"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"

	"github.com/dohr-michael/dayflow/internal/fault"
)

// Chatter is the minimal surface the extraction and planning flows need.
// model.ToolCallingChatModel satisfies it; tests use hand-rolled fakes.
type Chatter interface {
	Generate(ctx context.Context, messages []*schema.Message, opts ...model.Option) (*schema.Message, error)
}

// Client wraps a chat model with the retry budget from config. Transient and
// rate-limit failures back off and retry; everything else surfaces at once.
type Client struct {
	chatter Chatter
	budget  int
	backoff time.Duration // base delay, doubled per attempt
}

// NewClient builds a Client. budget is the total attempt count, minimum 1.
func NewClient(chatter Chatter, budget int) *Client {
	if budget < 1 {
		budget = 1
	}
	return &Client{chatter: chatter, budget: budget, backoff: time.Second}
}

// Chat runs one completion with retries and returns the text content.
func (c *Client) Chat(ctx context.Context, system, user string) (string, error) {
	messages := []*schema.Message{
		schema.SystemMessage(system),
		schema.UserMessage(user),
	}

	var lastErr error
	delay := c.backoff
	for attempt := 0; attempt < c.budget; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return "", fault.Wrap(fault.Transient, "chat cancelled", ctx.Err())
			case <-time.After(jitter(delay)):
			}
			delay *= 2
		}

		out, err := c.chatter.Generate(ctx, messages)
		if err != nil {
			lastErr = fault.Classify(err)
			if fault.Retryable(lastErr) {
				continue
			}
			return "", lastErr
		}
		return out.Content, nil
	}
	return "", lastErr
}

// jitter spreads a delay over [d/2, 3d/2) so concurrent retries against the
// same backend do not synchronize.
func jitter(d time.Duration) time.Duration {
	if d <= 0 {
		return 0
	}
	return d/2 + rand.N(d)
}

// ChatJSON runs a completion expected to return a single JSON document and
// unmarshals it into out. Malformed output is InvalidRequest; the caller
// decides whether a corrective retry is worth it.
func (c *Client) ChatJSON(ctx context.Context, system, user string, out any) error {
	content, err := c.Chat(ctx, system, user)
	if err != nil {
		return err
	}
	doc := ExtractJSON(content)
	if doc == "" {
		return fault.Newf(fault.InvalidRequest, "model returned no JSON document")
	}
	if err := json.Unmarshal([]byte(doc), out); err != nil {
		return fault.Wrap(fault.InvalidRequest, "decode model JSON", err)
	}
	return nil
}

// ExtractJSON pulls the first JSON object or array out of model output,
// tolerating markdown code fences and surrounding prose.
func ExtractJSON(s string) string {
	if idx := strings.Index(s, "```"); idx >= 0 {
		rest := s[idx+3:]
		rest = strings.TrimPrefix(rest, "json")
		if end := strings.Index(rest, "```"); end >= 0 {
			s = rest[:end]
		} else {
			s = rest
		}
	}
	s = strings.TrimSpace(s)

	start := -1
	for i, r := range s {
		if r == '{' || r == '[' {
			start = i
			break
		}
	}
	if start < 0 {
		return ""
	}

	opener := rune(s[start])
	closer := '}'
	if opener == '[' {
		closer = ']'
	}

	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(s); i++ {
		ch := rune(s[i])
		if escaped {
			escaped = false
			continue
		}
		switch {
		case ch == '\\' && inString:
			escaped = true
		case ch == '"':
			inString = !inString
		case inString:
		case ch == opener:
			depth++
		case ch == closer:
			depth--
			if depth == 0 {
				return s[start : i+1]
			}
		}
	}
	return ""
}
