package companion

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"stupify/pkg/ai"
	"stupify/pkg/domain"
)

const (
	MaxMessageChars     = 280
	MaxMessageSentences = 3

	SourceLLM      = "llm"
	SourceTemplate = "template"
)

var (
	ErrEmptyMessage      = errors.New("generated message is empty")
	ErrMessageTooLong    = errors.New("generated message is too long")
	ErrTooManySentences  = errors.New("generated message has too many sentences")
	ErrDisallowedPhrase  = errors.New("generated message contains a disallowed phrase")
	errGeneratorDisabled = errors.New("no text generator configured")
)

var disallowed = []string{
	"as an ai",
	"as a language model",
	"i'm an ai",
	"i am an ai",
	"openai",
	"anthropic",
	"chatgpt",
}

var sentenceEnd = regexp.MustCompile(`[.!?]+(\s|$)`)

// GenerateInput is the enrichment context for one proactive message.
type GenerateInput struct {
	Archetype  domain.Archetype
	Name       string
	Trigger    TriggerType
	Topics     []string
	StreakDays int
	Milestone  string
	Now        time.Time
}

// Message is a generated companion message.
type Message struct {
	Content        string      `json:"content"`
	Trigger        TriggerType `json:"trigger"`
	Source         string      `json:"source"`
	FallbackReason string      `json:"-"`
}

// Generator produces personality-driven messages with a template fallback.
type Generator struct {
	llm     ai.TextGenerator
	timeout time.Duration
}

// NewGenerator builds a Generator. llm may be nil, in which case every
// message comes from templates.
func NewGenerator(llm ai.TextGenerator, timeout time.Duration) *Generator {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Generator{llm: llm, timeout: timeout}
}

// Generate never fails: any timeout, provider error or validation failure
// yields the archetype × trigger template instead.
func (g *Generator) Generate(ctx context.Context, in GenerateInput) Message {
	text, err := g.generateLLM(ctx, in)
	if err == nil {
		return Message{Content: text, Trigger: in.Trigger, Source: SourceLLM}
	}
	return Message{Content: Template(in), Trigger: in.Trigger, Source: SourceTemplate, FallbackReason: err.Error()}
}

func (g *Generator) generateLLM(ctx context.Context, in GenerateInput) (string, error) {
	if g == nil || g.llm == nil {
		return "", errGeneratorDisabled
	}
	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()
	system, user := BuildPrompt(in)
	raw, err := g.llm.GenerateText(ctx, system, user)
	if err != nil {
		return "", fmt.Errorf("generate companion message: %w", err)
	}
	return Validate(raw)
}

// Validate cleans a generated message and enforces the length and tone
// heuristics.
func Validate(raw string) (string, error) {
	text := strings.TrimSpace(raw)
	text = strings.Trim(text, "\"“”")
	text = strings.Join(strings.Fields(text), " ")
	if text == "" {
		return "", ErrEmptyMessage
	}
	if len([]rune(text)) > MaxMessageChars {
		return "", ErrMessageTooLong
	}
	if CountSentences(text) > MaxMessageSentences {
		return "", ErrTooManySentences
	}
	lower := strings.ToLower(strings.ReplaceAll(text, "’", "'"))
	for _, phrase := range disallowed {
		if strings.Contains(lower, phrase) {
			return "", ErrDisallowedPhrase
		}
	}
	return text, nil
}

// CountSentences counts terminal punctuation runs, treating a trailing
// fragment without punctuation as one more sentence.
func CountSentences(text string) int {
	text = strings.TrimSpace(text)
	if text == "" {
		return 0
	}
	ends := sentenceEnd.FindAllStringIndex(text, -1)
	n := len(ends)
	if n == 0 || ends[n-1][1] < len(text) {
		n++
	}
	return n
}

var triggerBriefs = map[TriggerType]string{
	TriggerMilestone:       "The user just reached a milestone: %s. Celebrate it.",
	TriggerStreakReminder:  "The user has a %d-day learning streak that ends today unless they ask a question. Remind them gently.",
	TriggerInactivity:      "The user has not visited for several days. Welcome them back warmly without guilt.",
	TriggerTopicSuggestion: "Suggest exploring something new related to %s.",
	TriggerQuestionAsked:   "The user just asked a question. React briefly with enthusiasm.",
	TriggerSessionStart:    "The user just opened the app. Greet them.",
}

// TimeOfDay buckets t into morning, afternoon, evening or night.
func TimeOfDay(t time.Time) string {
	switch h := t.Hour(); {
	case h >= 5 && h < 12:
		return "morning"
	case h >= 12 && h < 17:
		return "afternoon"
	case h >= 17 && h < 22:
		return "evening"
	default:
		return "night"
	}
}

// BuildPrompt returns the system and user prompts for in.
func BuildPrompt(in GenerateInput) (string, string) {
	p := PersonalityFor(in.Archetype)
	name := in.Name
	if name == "" {
		name = p.DefaultName
	}
	var sys strings.Builder
	fmt.Fprintf(&sys, "You are %s, a small virtual companion in a learning app. Your personality is the %s.\n", name, p.Title)
	sys.WriteString(p.Voice)
	sys.WriteString("\n")
	fmt.Fprintf(&sys, "Trait weights from 0 to 1: warmth %.2f, curiosity %.2f, humor %.2f, encouragement %.2f, formality %.2f.\n",
		p.Traits.Warmth, p.Traits.Curiosity, p.Traits.Humor, p.Traits.Encouragement, p.Traits.Formality)
	fmt.Fprintf(&sys, "Reply with one message of at most %d sentences and %d characters. Never mention being an AI. No hashtags.",
		MaxMessageSentences, MaxMessageChars)

	topic := "something new"
	if len(in.Topics) > 0 {
		topic = in.Topics[0]
	}
	var brief string
	switch in.Trigger {
	case TriggerMilestone:
		milestone := in.Milestone
		if milestone == "" {
			milestone = "a new milestone"
		}
		brief = fmt.Sprintf(triggerBriefs[in.Trigger], milestone)
	case TriggerStreakReminder:
		brief = fmt.Sprintf(triggerBriefs[in.Trigger], max(in.StreakDays, 1))
	case TriggerTopicSuggestion:
		brief = fmt.Sprintf(triggerBriefs[in.Trigger], topic)
	default:
		brief = triggerBriefs[in.Trigger]
		if brief == "" {
			brief = triggerBriefs[TriggerSessionStart]
		}
	}

	now := in.Now
	if now.IsZero() {
		now = time.Now()
	}
	var user strings.Builder
	user.WriteString(brief)
	user.WriteString("\n")
	if len(in.Topics) > 0 {
		fmt.Fprintf(&user, "Topics they ask about most: %s.\n", strings.Join(in.Topics, ", "))
	}
	if in.StreakDays > 0 {
		fmt.Fprintf(&user, "Current streak: %d days.\n", in.StreakDays)
	}
	fmt.Fprintf(&user, "It is %s for the user.", TimeOfDay(now))
	return sys.String(), user.String()
}
