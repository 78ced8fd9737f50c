package model

import (
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
)

func TestFitColumns(t *testing.T) {
	items := make([]string, MaxPrepItems+5)
	for i := range items {
		items[i] = "water bottle"
	}
	items[0] = strings.Repeat("é", MaxPrepItemLen+10)

	ev := Event{
		Title:        strings.Repeat("ü", MaxTitleLen+1),
		Location:     strings.Repeat("Community Hall ", 60),
		ErrorMessage: strings.Repeat("x", MaxErrorMessageLen*2),
		PrepItems:    items,
	}
	ev.FitColumns()

	assert.Equal(t, MaxTitleLen, utf8.RuneCountInString(ev.Title))
	assert.LessOrEqual(t, utf8.RuneCountInString(ev.Location), MaxLocationLen)
	assert.False(t, strings.HasSuffix(ev.Location, " "))
	assert.Len(t, ev.ErrorMessage, MaxErrorMessageLen)
	assert.Len(t, ev.PrepItems, MaxPrepItems)
	assert.Equal(t, MaxPrepItemLen, utf8.RuneCountInString(ev.PrepItems[0]))
	assert.Equal(t, "water bottle", ev.PrepItems[1])
}

func TestFitColumnsKeepsShortValues(t *testing.T) {
	ev := Event{Title: "Soccer practice", Location: "Community Sports Center", PrepItems: []string{"cleats"}}
	ev.FitColumns()

	assert.Equal(t, "Soccer practice", ev.Title)
	assert.Equal(t, "Community Sports Center", ev.Location)
	assert.Equal(t, []string{"cleats"}, []string(ev.PrepItems))
}
