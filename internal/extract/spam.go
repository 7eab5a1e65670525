package extract

import (
	"context"
	"fmt"
	"strings"

	"github.com/dohr-michael/dayflow/internal/llm"
	"github.com/dohr-michael/dayflow/internal/provider"
)

// Rule scores. The strongest matching rule wins; scores at or above the
// configured threshold flag the message on their own.
const (
	scoreSpamLabel      = 1.0
	scorePromotionLabel = 0.9
	scoreUpdatesLabel   = 0.3
	scorePromoDomain    = 0.8
	scorePromoLocalPart = 0.75
	scoreContentKeyword = 0.8
)

var defaultPromoPatterns = []string{
	"noreply", "no-reply", "newsletter", "marketing", "promo", "deals", "offers", "notifications",
}

var promoLocalParts = []string{
	"news", "updates", "digest", "hello", "info", "sales",
}

var contentKeywords = []string{
	"unsubscribe", "limited time offer", "% off", "discount code", "flash sale", "free shipping",
}

var subjectPhrases = map[string]float64{
	"act now":        0.85,
	"last chance":    0.85,
	"final hours":    0.8,
	"don't miss":     0.75,
	"exclusive deal": 0.8,
}

// SpamVerdict is the fused rule + model judgement for one message.
type SpamVerdict struct {
	Spam   bool
	Score  float64
	Reason string
}

// SpamFilter scores mail promotionality. The model opinion refines the rule
// score but a hard rule match flags regardless of what the model says.
type SpamFilter struct {
	llm           *llm.Client // nil runs rules only
	threshold     float64
	promoPatterns []string
}

// NewSpamFilter builds a filter. extraPatterns extend the built-in promo
// sender patterns.
func NewSpamFilter(client *llm.Client, threshold float64, extraPatterns []string) *SpamFilter {
	return &SpamFilter{
		llm:           client,
		threshold:     threshold,
		promoPatterns: append(append([]string{}, defaultPromoPatterns...), extraPatterns...),
	}
}

// RuleScore computes the deterministic promotionality score and the rule
// that produced it.
func (f *SpamFilter) RuleScore(msg *provider.MailMessage) (float64, string) {
	best, reason := 0.0, ""
	bump := func(score float64, why string) {
		if score > best {
			best, reason = score, why
		}
	}

	for _, label := range msg.Labels {
		switch strings.ToUpper(label) {
		case "SPAM":
			bump(scoreSpamLabel, "provider spam label")
		case "CATEGORY_PROMOTIONS":
			bump(scorePromotionLabel, "promotions category")
		case "CATEGORY_UPDATES":
			bump(scoreUpdatesLabel, "updates category")
		}
	}

	from := strings.ToLower(msg.From)
	localPart := from
	if at := strings.Index(from, "@"); at >= 0 {
		localPart = from[:at]
	}
	for _, p := range f.promoPatterns {
		if strings.Contains(from, p) {
			bump(scorePromoDomain, fmt.Sprintf("promotional sender pattern %q", p))
		}
	}
	for _, p := range promoLocalParts {
		if localPart == p {
			bump(scorePromoLocalPart, fmt.Sprintf("promotional address %q", p))
		}
	}

	content := strings.ToLower(msg.Subject + "\n" + msg.Snippet + "\n" + msg.Body)
	for _, k := range contentKeywords {
		if strings.Contains(content, k) {
			bump(scoreContentKeyword, fmt.Sprintf("promotional content %q", k))
		}
	}

	subject := strings.ToLower(msg.Subject)
	for phrase, score := range subjectPhrases {
		if strings.Contains(subject, phrase) {
			bump(score, fmt.Sprintf("subject phrase %q", phrase))
		}
	}

	return best, reason
}

const spamSystemPrompt = `You judge whether an email is promotional or automated noise rather than personal, actionable correspondence.
Respond with a single JSON object: {"spam_score": <0.0-1.0>, "reason": "<short explanation>"}.
Score 0 for clearly personal or work email, 1 for pure marketing.`

type llmSpamResponse struct {
	SpamScore float64 `json:"spam_score"`
	Reason    string  `json:"reason"`
}

// Judge fuses the rule score with the model's. The final score is the max of
// both; the message is spam when that reaches the threshold. Model failures
// fall back to rules alone.
func (f *SpamFilter) Judge(ctx context.Context, msg *provider.MailMessage) SpamVerdict {
	ruleScore, ruleReason := f.RuleScore(msg)

	score, reason := ruleScore, ruleReason
	if f.llm != nil && ruleScore < scoreSpamLabel {
		prompt := fmt.Sprintf("From: %s\nSubject: %s\n\n%s", msg.From, msg.Subject, firstN(msg.Body, 2000))
		var resp llmSpamResponse
		if err := f.llm.ChatJSON(ctx, spamSystemPrompt, prompt, &resp); err == nil {
			if resp.SpamScore > score && resp.SpamScore <= 1 {
				score = resp.SpamScore
				reason = resp.Reason
			}
		}
	}

	if score >= f.threshold && reason == "" {
		reason = "promotional content"
	}
	return SpamVerdict{
		Spam:   score >= f.threshold,
		Score:  score,
		Reason: reason,
	}
}

// PromoTitle reports whether a task title matches a promotional pattern.
// Extraction can let a promotional item through when the sender looks
// legitimate; the planner drops such leftovers before installing a plan.
func PromoTitle(title string, extraPatterns []string) bool {
	t := strings.ToLower(title)
	for _, p := range defaultPromoPatterns {
		if strings.Contains(t, p) {
			return true
		}
	}
	for _, k := range contentKeywords {
		if strings.Contains(t, k) {
			return true
		}
	}
	for _, p := range extraPatterns {
		if p != "" && strings.Contains(t, strings.ToLower(p)) {
			return true
		}
	}
	return false
}

func firstN(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
