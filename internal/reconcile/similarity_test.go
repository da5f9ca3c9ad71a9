package reconcile

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSimilarity(t *testing.T) {
	assert.Equal(t, 1.0, Similarity("Smith", "Smith"))
	assert.Equal(t, 1.0, Similarity("", ""))
	assert.Greater(t, Similarity("John", "Jon"), 0.7)
	assert.Less(t, Similarity("John", "Zara"), 0.3)
	assert.Equal(t, 0.0, Similarity("abc", ""))
}

func TestEditDistance(t *testing.T) {
	tests := []struct {
		a, b string
		want int
	}{
		{"", "", 0},
		{"kitten", "sitting", 3},
		{"flaw", "lawn", 2},
		{"José", "Jose", 1},
		{"abc", "abc", 0},
	}
	for _, tt := range tests {
		t.Run(tt.a+"/"+tt.b, func(t *testing.T) {
			assert.Equal(t, tt.want, EditDistance(tt.a, tt.b))
			assert.Equal(t, tt.want, EditDistance(tt.b, tt.a))
		})
	}
}

func TestNormalize(t *testing.T) {
	assert.Equal(t, "mary jane oconnor", Normalize("  Mary   Jane O'Connor "))
	assert.Equal(t, "maryjane oconnor", Normalize("MARY-JANE OConnor"))
	assert.Equal(t, "", Normalize(" . "))
}

func TestNamesSimilar(t *testing.T) {
	tests := []struct {
		a, b string
		want bool
	}{
		{"Jon Smith", "John Smith", true},
		{"JOHN SMITH", "john  smith", true},
		{"John", "John Smith", true},
		{"John Smith", "Zara Ahmed", false},
		{"", "", false},
		{"", "John", false},
	}
	for _, tt := range tests {
		t.Run(tt.a+"/"+tt.b, func(t *testing.T) {
			assert.Equal(t, tt.want, NamesSimilar(tt.a, tt.b))
		})
	}
}

func TestSlotsOverlap(t *testing.T) {
	tests := []struct {
		name         string
		aTime, aSlot string
		bTime, bSlot string
		want         bool
	}{
		{"same start", "09:00", "", "09:00", "", true},
		{"intersecting ranges", "09:00", "09:00 - 09:30", "09:15", "09:15-09:45", true},
		{"touching ranges", "09:00", "09:00 - 09:30", "09:30", "09:30 - 10:00", false},
		{"twelve hour labels", "13:00", "1:00 PM - 1:30 PM", "13:20", "13:20 - 13:50", true},
		{"unparseable label", "09:00", "morning", "09:15", "09:15 - 09:45", false},
		{"no labels", "09:00", "", "09:15", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, slotsOverlap(tt.aTime, tt.aSlot, tt.bTime, tt.bSlot))
		})
	}
}

func TestParseWallClock(t *testing.T) {
	m, ok := parseWallClock("12:15 AM")
	assert.True(t, ok)
	assert.Equal(t, 15, m)

	m, ok = parseWallClock("12:15 pm")
	assert.True(t, ok)
	assert.Equal(t, 12*60+15, m)

	_, ok = parseWallClock("13:00 PM")
	assert.False(t, ok)
}
