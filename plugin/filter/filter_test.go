package filter

import (
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/picarcade/picarcade/store"
)

func TestApply(t *testing.T) {
	refs := []*store.Reference{
		{Tag: "hero", Category: store.CategoryCharacters, CreatedTs: 100},
		{Tag: "castle", Category: store.CategoryLocations, CreatedTs: 200},
		{Tag: "heroine", Category: store.CategoryCharacters, Description: "red cape", CreatedTs: 300},
	}

	for _, tc := range []struct {
		expr string
		want []string
	}{
		{`category == "characters"`, []string{"hero", "heroine"}},
		{`tag.startsWith("hero") && created_ts > 150`, []string{"heroine"}},
		{`description.contains("cape") || tag == "castle"`, []string{"castle", "heroine"}},
		{`true`, []string{"hero", "castle", "heroine"}},
	} {
		prg, err := Compile(tc.expr)
		require.NoError(t, err, tc.expr)
		got, err := prg.Apply(refs)
		require.NoError(t, err, tc.expr)
		tags := make([]string, 0, len(got))
		for _, ref := range got {
			tags = append(tags, ref.Tag)
		}
		assert.Equal(t, tc.want, tags, tc.expr)
	}
}

func TestCompileRejectsBadExpressions(t *testing.T) {
	for _, expr := range []string{`category ==`, `unknown_field == "x"`, `tag + 1`} {
		_, err := Compile(expr)
		require.Error(t, err, expr)
		assert.True(t, errors.Is(err, ErrInvalidFilter), expr)
	}
}

func TestMatchRequiresBool(t *testing.T) {
	prg, err := Compile(`tag`)
	require.NoError(t, err)
	_, err = prg.Match(&store.Reference{Tag: "hero"})
	assert.True(t, errors.Is(err, ErrInvalidFilter))
}
