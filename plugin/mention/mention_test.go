package mention

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParse(t *testing.T) {
	tests := []struct {
		prompt string
		want   []string
	}{
		{prompt: "Put @me on the horse", want: []string{"me"}},
		{prompt: "Apply @john_style to @me with @background_ref", want: []string{"john_style", "me", "background_ref"}},
		{prompt: "Create a beautiful sunset", want: []string{}},
		{prompt: "Use @person_123 and @style_v2", want: []string{"person_123", "style_v2"}},
		{prompt: "@abc @Abc @abc", want: []string{"abc", "Abc", "abc"}},
		{prompt: "email me @ home", want: []string{}},
		{prompt: "@hero, meet @sidekick-2!", want: []string{"hero", "sidekick-2"}},
		{prompt: "@@double", want: []string{"double"}},
		{prompt: "@hero.png", want: []string{"hero"}},
	}
	for _, test := range tests {
		assert.Equal(t, test.want, Parse(test.prompt), test.prompt)
	}
}

func TestUnique(t *testing.T) {
	assert.Equal(t, []string{"abc", "me"}, Unique([]string{"abc", "me", "Abc", "ME"}))
	assert.Empty(t, Unique(nil))
}
