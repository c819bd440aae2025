package confusion

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
)

var confused = []string{
	"I don't understand",
	"i dont understand??",
	"What does that mean?",
	"That's too complicated, can you explain it simpler",
	"Huh?",
	"huuuh",
	"I'm lost",
	"ELI5 please",
	"Sorry, that makes no sense to me.",
	"Can you dumb it down a bit",
	"what?",
	"I’m confused",
	"Can you simplify that?",
	"simplify please",
	"that's too hard",
	"What do you mean by that?",
	"explain it again",
}

var normal = []string{
	"how are you",
	"How are you doing today?",
	"What is a black hole?",
	"Why is the sky blue?",
	"What does a cat eat?",
	"Explain photosynthesis",
	"what happens when you die",
	"Can you tell me about the Roman empire",
	"how do airplanes fly",
	"How do I simplify fractions?",
	"Can you simplify this equation: 2x + 4 = 10",
	"Why is a diamond too hard to scratch?",
	"What do you mean by irrational numbers in math?",
	"Explain why 0/0 doesn't make sense",
	"I'm lost in the woods, what should I do?",
	"",
}

func TestConfusedPhrasesClassifyAsConfused(t *testing.T) {
	for _, text := range confused {
		assert.True(t, IsConfused(text), "expected confused: %q", text)
	}
}

func TestNormalQuestionsNeverConfused(t *testing.T) {
	for _, text := range normal {
		assert.False(t, IsConfused(text), "expected not confused: %q", text)
	}
}

func TestClassificationIndependentOfOrdering(t *testing.T) {
	type sample struct {
		text string
		want bool
	}
	var all []sample
	for _, s := range confused {
		all = append(all, sample{s, true})
	}
	for _, s := range normal {
		all = append(all, sample{s, false})
	}
	rng := rand.New(rand.NewSource(7))
	for round := 0; round < 5; round++ {
		rng.Shuffle(len(all), func(i, j int) { all[i], all[j] = all[j], all[i] })
		for _, s := range all {
			assert.Equal(t, s.want, IsConfused(s.text), "round %d: %q", round, s.text)
		}
	}
}

func TestMatchReportsPhrase(t *testing.T) {
	phrase, ok := Match("Honestly I do not understand any of it")
	assert.True(t, ok)
	assert.Equal(t, "i do not understand", phrase)
}
