// Package knowledge maintains the per-user knowledge graph: which topics a
// user asks about and how well they seem to understand them.
package knowledge

import (
	"sort"
	"strings"
	"time"

	"stupify/pkg/confusion"
	"stupify/pkg/domain"
)

// GeneralTopic is used when nothing more specific can be extracted.
const GeneralTopic = "general"

var lexicon = map[string][]string{
	"space":           {"space", "planet", "planets", "star", "stars", "galaxy", "universe", "moon", "sun", "mars", "jupiter", "saturn", "orbit", "astronaut", "nasa", "comet", "asteroid", "black hole", "telescope", "rocket", "eclipse"},
	"animals":         {"animal", "animals", "dog", "dogs", "cat", "cats", "bird", "birds", "fish", "whale", "shark", "dinosaur", "dinosaurs", "insect", "bee", "bees", "lion", "elephant", "snake", "pet", "pets"},
	"human body":      {"body", "brain", "heart", "blood", "bone", "bones", "muscle", "skin", "lungs", "stomach", "teeth", "eyes", "cell", "cells", "dna", "gene", "genes", "sleep", "dream", "dreams"},
	"physics":         {"gravity", "energy", "force", "light", "speed", "atom", "atoms", "electricity", "magnet", "magnetism", "quantum", "relativity", "physics", "sound", "heat", "temperature", "friction", "momentum"},
	"chemistry":       {"chemical", "chemistry", "molecule", "molecules", "element", "elements", "reaction", "acid", "oxygen", "carbon", "hydrogen", "water", "fire", "metal", "periodic"},
	"earth & weather": {"weather", "rain", "snow", "cloud", "clouds", "storm", "thunder", "lightning", "volcano", "earthquake", "ocean", "oceans", "climate", "wind", "tornado", "hurricane", "rainbow", "sky", "season", "seasons", "mountain"},
	"history":         {"history", "war", "ancient", "empire", "king", "queen", "president", "revolution", "egypt", "pyramids", "rome", "roman", "medieval", "civilization", "century"},
	"technology":      {"computer", "computers", "internet", "phone", "robot", "robots", "ai", "software", "code", "coding", "programming", "app", "wifi", "bitcoin", "blockchain", "algorithm", "video game", "electric car"},
	"math":            {"math", "number", "numbers", "equation", "algebra", "geometry", "fraction", "fractions", "infinity", "prime", "calculus", "statistics", "probability", "pi"},
	"economics":       {"money", "economy", "inflation", "bank", "banks", "stock", "stocks", "market", "tax", "taxes", "price", "prices", "business", "trade", "interest", "recession"},
	"language":        {"word", "words", "language", "languages", "grammar", "spelling", "alphabet", "letter", "letters", "english", "spanish", "translate"},
	"art & music":     {"art", "music", "song", "songs", "painting", "paint", "color", "colors", "colour", "drawing", "instrument", "piano", "guitar", "movie", "movies"},
	"psychology":      {"feel", "feelings", "emotion", "emotions", "happy", "sad", "angry", "fear", "memory", "mind", "think", "thinking", "personality", "behavior", "anxiety"},
	"food & cooking":  {"food", "cook", "cooking", "bake", "baking", "bread", "sugar", "chocolate", "vegetable", "vegetables", "fruit", "pizza", "recipe", "eat", "eating"},
	"sports":          {"sport", "sports", "football", "soccer", "basketball", "tennis", "olympics", "run", "running", "swim", "swimming", "game", "team"},
	"health":          {"health", "sick", "virus", "bacteria", "germs", "vaccine", "medicine", "doctor", "fever", "cold", "flu", "exercise", "vitamin", "vitamins", "diet"},
}

var stopwords = map[string]struct{}{}

func init() {
	for _, w := range strings.Fields(`a an the and or but if then so of to in on at by for with about from into over under
		is are was were be been being am do does did doing have has had can could would should will shall may might must
		i me my we our you your he him his she her it its they them their this that these those there here
		what why how when where who whom which whose please tell explain describe mean means meaning
		like just really very much many more most some any all not no yes make makes made get gets got
		thing things stuff someone something anything everything way work works`) {
		stopwords[w] = struct{}{}
	}
}

// ExtractTopic maps a question to a topic category. When no category
// matches it falls back to the longest significant word.
func ExtractTopic(question string) string {
	norm := " " + confusion.Normalize(question) + " "
	if strings.TrimSpace(norm) == "" {
		return GeneralTopic
	}
	best, bestScore := "", 0
	for _, topic := range sortedTopics() {
		score := 0
		for _, kw := range lexicon[topic] {
			if strings.Contains(norm, " "+kw+" ") {
				score += len(strings.Fields(kw))
			}
		}
		if score > bestScore {
			best, bestScore = topic, score
		}
	}
	if best != "" {
		return best
	}
	fallback := ""
	for _, w := range strings.Fields(norm) {
		if _, stop := stopwords[w]; stop || len(w) < 4 {
			continue
		}
		if len(w) > len(fallback) {
			fallback = w
		}
	}
	if fallback == "" {
		return GeneralTopic
	}
	return fallback
}

func sortedTopics() []string {
	topics := make([]string, 0, len(lexicon))
	for t := range lexicon {
		topics = append(topics, t)
	}
	sort.Strings(topics)
	return topics
}

// Understanding labels.
const (
	LabelBeginner  = "beginner"
	LabelLearning  = "learning"
	LabelConfident = "confident"
)

// Observation is one question asked about a topic.
type Observation struct {
	Topic    string
	Level    domain.SimplicityLevel
	Confused bool
	At       time.Time
}

// Apply folds an observation into an entry, keeping understanding in [0,100].
func Apply(entry domain.KnowledgeEntry, obs Observation) domain.KnowledgeEntry {
	entry.Topic = obs.Topic
	entry.QuestionsAsked++
	delta := 5
	switch obs.Level {
	case domain.LevelAdvanced:
		delta = 8
	case domain.LevelFiveYearOld:
		delta = 2
	}
	if obs.Confused {
		delta = -10
		entry.ConfusedCount++
	}
	entry.Understanding = clamp(entry.Understanding + delta)
	entry.LastAskedAt = obs.At.UTC()
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = entry.LastAskedAt
	}
	return entry
}

// Label returns the human label for an understanding score.
func Label(understanding int) string {
	switch {
	case understanding >= 70:
		return LabelConfident
	case understanding >= 30:
		return LabelLearning
	default:
		return LabelBeginner
	}
}

// TopTopics orders entries by questions asked, then recency, and returns
// at most n topic names.
func TopTopics(entries []domain.KnowledgeEntry, n int) []string {
	sorted := append([]domain.KnowledgeEntry(nil), entries...)
	sort.SliceStable(sorted, func(i, j int) bool {
		if sorted[i].QuestionsAsked != sorted[j].QuestionsAsked {
			return sorted[i].QuestionsAsked > sorted[j].QuestionsAsked
		}
		return sorted[i].LastAskedAt.After(sorted[j].LastAskedAt)
	})
	if n > 0 && len(sorted) > n {
		sorted = sorted[:n]
	}
	out := make([]string, 0, len(sorted))
	for _, e := range sorted {
		out = append(out, e.Topic)
	}
	return out
}

// Search is the keyword fallback for topic search: it matches every query
// term against topic names.
func Search(entries []domain.KnowledgeEntry, query string) []domain.KnowledgeEntry {
	terms := strings.Fields(confusion.Normalize(query))
	if len(terms) == 0 {
		return nil
	}
	var out []domain.KnowledgeEntry
	for _, e := range entries {
		topic := strings.ToLower(e.Topic)
		for _, term := range terms {
			if strings.Contains(topic, term) {
				out = append(out, e)
				break
			}
		}
	}
	return out
}

func clamp(v int) int {
	return min(100, max(0, v))
}
