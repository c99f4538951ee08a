package teststore

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/picarcade/picarcade/store"
)

func TestGenerationHistoryIsBounded(t *testing.T) {
	ctx := context.Background()
	ts := NewTestingStore(ctx, t)
	userID := "user_1"

	// The testing profile keeps five rows per user.
	for i := 0; i < 8; i++ {
		_, err := ts.AppendGeneration(ctx, &store.Generation{
			GenerationID: fmt.Sprintf("gen-%d", i),
			UserID:       userID,
			Prompt:       fmt.Sprintf("prompt %d", i),
			ModelUsed:    "stable-diffusion",
			Success:      i%2 == 0,
			CreatedTs:    int64(1000 + i),
		})
		require.NoError(t, err)
	}
	_, err := ts.AppendGeneration(ctx, &store.Generation{GenerationID: "other", UserID: "user_2", Prompt: "x", CreatedTs: 1})
	require.NoError(t, err)

	list, err := ts.ListGenerations(ctx, &store.FindGeneration{UserID: &userID})
	require.NoError(t, err)
	require.Len(t, list, 5)
	require.Equal(t, "gen-7", list[0].GenerationID)
	require.Equal(t, "gen-3", list[4].GenerationID)

	limit := 2
	list, err = ts.ListGenerations(ctx, &store.FindGeneration{UserID: &userID, Limit: &limit})
	require.NoError(t, err)
	require.Len(t, list, 2)

	list, err = ts.ListGenerations(ctx, &store.FindGeneration{UserID: &userID, SuccessOnly: true})
	require.NoError(t, err)
	for _, g := range list {
		require.True(t, g.Success)
	}

	require.NoError(t, ts.DeleteGeneration(ctx, "gen-7"))
	id := "gen-7"
	list, err = ts.ListGenerations(ctx, &store.FindGeneration{GenerationID: &id})
	require.NoError(t, err)
	require.Empty(t, list)
}

func TestGenerationSessionWorkingImage(t *testing.T) {
	ctx := context.Background()
	ts := NewTestingStore(ctx, t)

	url, err := ts.GetWorkingImage(ctx, "sess-1")
	require.NoError(t, err)
	require.Empty(t, url)

	require.NoError(t, ts.SetWorkingImage(ctx, "sess-1", "https://cdn.example.com/a.png", "user_1"))
	require.NoError(t, ts.SetWorkingImage(ctx, "sess-1", "https://cdn.example.com/b.png", "user_1"))

	url, err = ts.GetWorkingImage(ctx, "sess-1")
	require.NoError(t, err)
	require.Equal(t, "https://cdn.example.com/b.png", url)

	sess, err := ts.GetGenerationSession(ctx, "sess-1")
	require.NoError(t, err)
	require.Equal(t, "user_1", sess.UserID)

	require.NoError(t, ts.ClearSession(ctx, "sess-1"))
	url, err = ts.GetWorkingImage(ctx, "sess-1")
	require.NoError(t, err)
	require.Empty(t, url)
}
