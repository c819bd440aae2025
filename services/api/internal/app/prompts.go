package app

import (
	"strings"

	"stupify/pkg/ai"
	"stupify/pkg/domain"
)

const maxHistoryTurns = 20

const basePrompt = "You are Stupify, a friendly assistant that makes complicated things simple. " +
	"Answer the question directly and stay accurate. When something is uncertain or debated, say so plainly."

var levelPrompts = map[domain.SimplicityLevel]string{
	domain.LevelFiveYearOld: "Explain it the way you would to a curious five-year-old: very short sentences, everyday words " +
		"and one friendly comparison to something from daily life. Avoid jargon completely.",
	domain.LevelNormal: "Explain it for a curious adult with no background in the subject. Use plain language, " +
		"define any technical term you need, and keep it to a few short paragraphs.",
	domain.LevelAdvanced: "Give a thorough and precise explanation for a knowledgeable reader. Use correct terminology, " +
		"cover the important nuances, and structure longer answers with short lists where that helps.",
}

const reexplainPrompt = "The user did not understand your previous answer. Explain the same thing again, more simply, " +
	"from a different angle and with a new comparison. Do not repeat your earlier wording."

func systemPrompt(level domain.SimplicityLevel, reexplain bool) string {
	var b strings.Builder
	b.WriteString(basePrompt)
	b.WriteString("\n\n")
	if p, ok := levelPrompts[level]; ok {
		b.WriteString(p)
	} else {
		b.WriteString(levelPrompts[domain.LevelNormal])
	}
	if reexplain {
		b.WriteString("\n\n")
		b.WriteString(reexplainPrompt)
	}
	return b.String()
}

// buildMessages keeps the newest history turns and appends the question.
func buildMessages(history []domain.ChatMessage, question string) []ai.Message {
	if len(history) > maxHistoryTurns {
		history = history[len(history)-maxHistoryTurns:]
	}
	out := make([]ai.Message, 0, len(history)+1)
	for _, m := range history {
		content := strings.TrimSpace(m.Content)
		if content == "" {
			continue
		}
		role := "user"
		if m.Role == "assistant" {
			role = "assistant"
		}
		out = append(out, ai.Message{Role: role, Content: content})
	}
	return append(out, ai.Message{Role: "user", Content: question})
}

func hasAssistantTurn(history []domain.ChatMessage) bool {
	for _, m := range history {
		if m.Role == "assistant" && strings.TrimSpace(m.Content) != "" {
			return true
		}
	}
	return false
}
