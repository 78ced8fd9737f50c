package parser

import (
	"sort"
	"strings"

	"smart-event-relay/internal/model"
)

// MatchChild returns the id of the child whose display name appears in the
// message, compared case-insensitively. When several names appear, the
// child created first wins, with the id breaking ties.
func MatchChild(children []model.Child, subject, body string) *string {
	ordered := make([]model.Child, len(children))
	copy(ordered, children)
	sort.SliceStable(ordered, func(i, j int) bool {
		if !ordered[i].CreatedAt.Equal(ordered[j].CreatedAt) {
			return ordered[i].CreatedAt.Before(ordered[j].CreatedAt)
		}
		return ordered[i].ID < ordered[j].ID
	})

	text := strings.ToLower(subject + " " + body)
	for _, child := range ordered {
		name := strings.ToLower(strings.TrimSpace(child.DisplayName))
		if name == "" {
			continue
		}
		if strings.Contains(text, name) {
			id := child.ID
			return &id
		}
	}
	return nil
}
