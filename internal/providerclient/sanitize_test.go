package providerclient

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSanitizeComponentsDropsEmptyParameterLists(t *testing.T) {
	components := []ComponentObj{
		{Type: "header", Parameters: nil},
		{Type: "body", Parameters: []ParameterObj{{Type: "text", Text: "hi"}}},
	}
	got := SanitizeComponents(components)
	assert.Len(t, got, 1)
	assert.Equal(t, "body", got[0].Type)
}

func TestSanitizeComponentsCoercesEmptyBodyText(t *testing.T) {
	components := []ComponentObj{
		{Type: "body", Parameters: []ParameterObj{
			{Type: "text", Text: ""},
			{Type: "text", Text: "second"},
		}},
	}
	got := SanitizeComponents(components)
	assert.Equal(t, "-", got[0].Parameters[0].Text)
	assert.Equal(t, "second", got[0].Parameters[1].Text)
}

func TestSanitizeComponentsLeavesNonBodyTextAlone(t *testing.T) {
	components := []ComponentObj{
		{Type: "header", Parameters: []ParameterObj{
			{Type: "image", Image: &MediaObj{Link: "https://example.com/a.png"}},
		}},
	}
	got := SanitizeComponents(components)
	assert.Len(t, got, 1)
	assert.Equal(t, "https://example.com/a.png", got[0].Parameters[0].Image.Link)
}

func TestSanitizeComponentsEmptyInput(t *testing.T) {
	assert.Empty(t, SanitizeComponents(nil))
}
