package companion

import (
	"strconv"
	"strings"

	"stupify/pkg/domain"
)

// templates are the static fallbacks keyed by archetype and trigger.
// Placeholders: {name}, {topic}, {streak}, {milestone}.
var templates = map[domain.Archetype]map[TriggerType]string{
	domain.ArchetypeMentor: {
		TriggerMilestone:       "Well done. {milestone} is a real step forward, and I am proud of the work behind it.",
		TriggerStreakReminder:  "Your {streak}-day streak is worth protecting. One question today keeps it alive.",
		TriggerInactivity:      "Welcome back. Learning rewards patience, and I saved your place for you.",
		TriggerTopicSuggestion: "You have built a good base in {topic}. Shall we take it one level deeper?",
		TriggerQuestionAsked:   "A thoughtful question. Each one sharpens your understanding a little more.",
		TriggerSessionStart:    "Good to see you again. What would you like to understand today?",
	},
	domain.ArchetypeFriend: {
		TriggerMilestone:       "Woohoo! {milestone}! You are on fire and I am doing a happy dance!",
		TriggerStreakReminder:  "Psst! Your {streak}-day streak misses you. Just one question to keep it going?",
		TriggerInactivity:      "Hey, you are back! I missed you. Got anything you have been wondering about?",
		TriggerTopicSuggestion: "You really like {topic}, huh? Want to find out something wild about it?",
		TriggerQuestionAsked:   "Ooh, great question! I learned something too.",
		TriggerSessionStart:    "Hi friend! Ready to get curious together?",
	},
	domain.ArchetypeExplorer: {
		TriggerMilestone:       "New territory unlocked: {milestone}! The map keeps getting bigger.",
		TriggerStreakReminder:  "Day {streak} of our expedition is waiting. One question keeps the trail going!",
		TriggerInactivity:      "The trail went quiet for a while. Ready to set off on a new adventure?",
		TriggerTopicSuggestion: "I spotted an unexplored corner of {topic}. Want to go take a look?",
		TriggerQuestionAsked:   "Another discovery logged in the journal! Where to next?",
		TriggerSessionStart:    "Pack your curiosity, explorer. Where are we headed today?",
	},
}

// Template renders the static message for archetype and trigger.
func Template(in GenerateInput) string {
	byTrigger, ok := templates[in.Archetype]
	if !ok {
		byTrigger = templates[domain.ArchetypeFriend]
	}
	text, ok := byTrigger[in.Trigger]
	if !ok {
		text = byTrigger[TriggerSessionStart]
	}
	topic := "something new"
	if len(in.Topics) > 0 {
		topic = in.Topics[0]
	}
	milestone := in.Milestone
	if milestone == "" {
		milestone = "A new milestone"
	}
	streak := max(in.StreakDays, 1)
	return strings.NewReplacer(
		"{name}", in.Name,
		"{topic}", topic,
		"{streak}", strconv.Itoa(streak),
		"{milestone}", milestone,
	).Replace(text)
}
