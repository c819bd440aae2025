package app

import (
	"context"
	"fmt"
	"sort"

	"stupify/pkg/domain"
	"stupify/pkg/knowledge"
)

// TopicView is a knowledge graph node with its understanding label.
type TopicView struct {
	domain.KnowledgeEntry
	Label string `json:"label"`
}

// Knowledge lists the user's topics, most asked first.
func (a *App) Knowledge(ctx context.Context, userID string) ([]TopicView, error) {
	entries, err := a.store.ListKnowledge(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("list knowledge: %w", err)
	}
	sort.SliceStable(entries, func(i, j int) bool {
		if entries[i].QuestionsAsked != entries[j].QuestionsAsked {
			return entries[i].QuestionsAsked > entries[j].QuestionsAsked
		}
		return entries[i].LastAskedAt.After(entries[j].LastAskedAt)
	})
	return topicViews(entries), nil
}

// SearchKnowledge matches query terms against the user's topic names.
func (a *App) SearchKnowledge(ctx context.Context, userID, query string) ([]TopicView, error) {
	entries, err := a.store.ListKnowledge(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("list knowledge: %w", err)
	}
	return topicViews(knowledge.Search(entries, query)), nil
}

func topicViews(entries []domain.KnowledgeEntry) []TopicView {
	out := make([]TopicView, 0, len(entries))
	for _, e := range entries {
		out = append(out, TopicView{KnowledgeEntry: e, Label: knowledge.Label(e.Understanding)})
	}
	return out
}
