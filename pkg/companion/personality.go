// Package companion implements the virtual pet: its stats, evolution,
// proactive-message triggers and message generation.
package companion

import "stupify/pkg/domain"

// Traits are personality weights in [0,1].
type Traits struct {
	Warmth        float64 `json:"warmth"`
	Curiosity     float64 `json:"curiosity"`
	Humor         float64 `json:"humor"`
	Encouragement float64 `json:"encouragement"`
	Formality     float64 `json:"formality"`
}

// Personality describes an archetype.
type Personality struct {
	Archetype   domain.Archetype `json:"archetype"`
	Title       string           `json:"title"`
	Description string           `json:"description"`
	DefaultName string           `json:"defaultName"`
	Traits      Traits           `json:"traits"`
	Voice       string           `json:"-"`
}

var personalities = map[domain.Archetype]Personality{
	domain.ArchetypeMentor: {
		Archetype:   domain.ArchetypeMentor,
		Title:       "Mentor",
		Description: "A wise guide who celebrates progress and nudges you to go deeper.",
		DefaultName: "Sage",
		Traits:      Traits{Warmth: 0.7, Curiosity: 0.6, Humor: 0.3, Encouragement: 0.9, Formality: 0.7},
		Voice:       "You speak calmly and thoughtfully, like a patient teacher. You praise effort and suggest the next step.",
	},
	domain.ArchetypeFriend: {
		Archetype:   domain.ArchetypeFriend,
		Title:       "Friend",
		Description: "A cheerful buddy who is always happy to see you.",
		DefaultName: "Buddy",
		Traits:      Traits{Warmth: 0.95, Curiosity: 0.5, Humor: 0.8, Encouragement: 0.8, Formality: 0.2},
		Voice:       "You are upbeat and casual, like a close friend. You joke a little and keep things light.",
	},
	domain.ArchetypeExplorer: {
		Archetype:   domain.ArchetypeExplorer,
		Title:       "Explorer",
		Description: "An adventurous spirit who turns every question into an expedition.",
		DefaultName: "Scout",
		Traits:      Traits{Warmth: 0.6, Curiosity: 0.95, Humor: 0.6, Encouragement: 0.6, Formality: 0.3},
		Voice:       "You are adventurous and full of wonder. You frame learning as exploring new places.",
	},
}

// PersonalityFor returns the personality of archetype, defaulting to Friend.
func PersonalityFor(archetype domain.Archetype) Personality {
	if p, ok := personalities[archetype]; ok {
		return p
	}
	return personalities[domain.ArchetypeFriend]
}

// Personalities lists every archetype in display order.
func Personalities() []Personality {
	return []Personality{
		personalities[domain.ArchetypeMentor],
		personalities[domain.ArchetypeFriend],
		personalities[domain.ArchetypeExplorer],
	}
}
