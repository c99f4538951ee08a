package generation

import (
	"context"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/picarcade/picarcade/plugin/intent"
	"github.com/picarcade/picarcade/plugin/reasoning"
	"github.com/picarcade/picarcade/plugin/replicate"
	"github.com/picarcade/picarcade/store"
	teststore "github.com/picarcade/picarcade/store/test"
)

const userID = "user-1"

type failingReasoner struct{}

func (failingReasoner) Reason(context.Context, string, string) (string, error) {
	return "", errors.New("connection reset by peer")
}

type fakeSuggester struct{ tags []string }

func (s fakeSuggester) SuggestTags(context.Context, string, string, int) ([]string, error) {
	return s.tags, nil
}

type cannedReasoner struct{ answer string }

func (r cannedReasoner) Reason(context.Context, string, string) (string, error) {
	return r.answer, nil
}

func newTestOrchestrator(t *testing.T, opts ...Option) (*Orchestrator, *store.Store, *fakeProvider) {
	t.Helper()
	return newTestOrchestratorWithReasoner(t, failingReasoner{}, opts...)
}

func newTestOrchestratorWithReasoner(t *testing.T, reasoner reasoning.Service, opts ...Option) (*Orchestrator, *store.Store, *fakeProvider) {
	t.Helper()
	ctx := context.Background()
	ts := teststore.NewTestingStore(ctx, t)
	for _, ref := range []*store.Reference{
		{UserID: userID, Tag: "me", ImageURL: meURL},
		{UserID: userID, Tag: "horse", ImageURL: horseURL},
	} {
		_, err := ts.CreateReference(ctx, ref)
		require.NoError(t, err)
	}
	p := newFakeProvider()
	o := NewOrchestrator(ts, intent.NewClassifier(reasoner), NewRouter(p, nil), opts...)
	return o, ts, p
}

func TestGenerateTransferWithFallbackClassifier(t *testing.T) {
	ctx := context.Background()
	o, ts, p := newTestOrchestrator(t)

	result, err := o.Generate(ctx, &Request{
		Prompt:              "Put @me on the horse",
		UserID:              userID,
		SessionID:           "session-1",
		CurrentWorkingImage: workingURL,
	})
	require.NoError(t, err)
	require.True(t, result.Success, result.ErrorMessage)
	assert.Equal(t, outputURL, result.OutputURL)
	assert.Equal(t, "runway-gen4", result.ModelUsed)
	assert.Equal(t, workingURL, result.InputImageUsed)
	assert.Equal(t, ImageSourceWorkingImage, result.ImageSourceType)
	assert.Equal(t, []ReferenceImage{{URI: meURL, Tag: "me"}}, result.ReferencesUsed)

	want := intent.Heuristic(&intent.Input{
		Prompt:         "Put @me on the horse",
		Mentions:       []string{"me"},
		ActiveImageURL: workingURL,
		References:     []intent.ReferenceImage{{Tag: "me", URL: meURL}},
	})
	assert.Equal(t, want, result.Metadata["decision"])
	assert.Equal(t, []string{"me"}, result.Metadata["mentions"])
	assert.Equal(t, 1, result.Metadata["resolved_references"])
	assert.Equal(t, "session-1", result.Metadata["session_id"])

	call := p.last(t)
	assert.Equal(t, workingURL, call.input["base_image"])
	assert.Equal(t, meURL, call.input["reference_image"])

	image, err := ts.GetWorkingImage(ctx, "session-1")
	require.NoError(t, err)
	assert.Equal(t, outputURL, image)

	history, err := ts.ListGenerations(ctx, &store.FindGeneration{UserID: &[]string{userID}[0]})
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, result.GenerationID, history[0].GenerationID)
	assert.Equal(t, "transfer", history[0].Intent)
	assert.True(t, history[0].Success)
}

func TestGenerateSwapUsesFirstTwoMentions(t *testing.T) {
	o, _, p := newTestOrchestrator(t)
	result, err := o.Generate(context.Background(), &Request{Prompt: "Put @ME on @horse", UserID: userID})
	require.NoError(t, err)
	require.True(t, result.Success, result.ErrorMessage)

	call := p.last(t)
	assert.Equal(t, meURL, call.input["person_image"])
	assert.Equal(t, horseURL, call.input["scene_image"])
	assert.Equal(t, ImageSourceNone, result.ImageSourceType)
	assert.Len(t, result.ReferencesUsed, 2)
	// A new conversation is keyed by the generation id.
	assert.Equal(t, result.GenerationID, result.Metadata["session_id"])
}

func TestGenerateRequestReferencesTakePrecedence(t *testing.T) {
	o, _, p := newTestOrchestrator(t)
	override := "https://cdn.example.com/me-today.png"
	result, err := o.Generate(context.Background(), &Request{
		Prompt:          "Put @me on a horse",
		UserID:          userID,
		ReferenceImages: []ReferenceImage{{URI: override, Tag: "@me"}},
	})
	require.NoError(t, err)
	require.True(t, result.Success, result.ErrorMessage)
	assert.Equal(t, override, p.last(t).input["reference_image"])
}

func TestGenerateUnresolvedMentionFails(t *testing.T) {
	o, _, p := newTestOrchestrator(t, WithSuggester(fakeSuggester{tags: []string{"horse", "me", "hero", "extra"}}))
	result, err := o.Generate(context.Background(), &Request{Prompt: "Put @ghost on a horse", UserID: userID})
	require.NoError(t, err)
	assert.False(t, result.Success)
	assert.Contains(t, result.ErrorMessage, "primary reference")
	assert.Equal(t, 0, result.Metadata["resolved_references"])
	assert.Equal(t, []string{"ghost"}, result.Metadata["unresolved_mentions"])
	assert.Equal(t, []string{"horse", "me", "hero"}, result.Metadata["suggestions"])
	assert.Empty(t, p.calls)
}

func TestGenerateEditsSessionImage(t *testing.T) {
	ctx := context.Background()
	o, ts, p := newTestOrchestrator(t)
	require.NoError(t, ts.SetWorkingImage(ctx, "session-2", workingURL, userID))

	result, err := o.Generate(ctx, &Request{
		Prompt:          "change the sky color",
		UserID:          userID,
		SessionID:       "session-2",
		QualityPriority: QualitySpeed,
	})
	require.NoError(t, err)
	require.True(t, result.Success, result.ErrorMessage)
	assert.Equal(t, ImageSourceWorkingImage, result.ImageSourceType)

	call := p.last(t)
	assert.Equal(t, workingURL, call.input["image"])
	assert.Equal(t, 25, call.input["num_inference_steps"])
	assert.Equal(t, 0.7, call.input["strength"])
}

func TestGenerateEditsUpload(t *testing.T) {
	o, _, p := newTestOrchestrator(t)
	result, err := o.Generate(context.Background(), &Request{
		Prompt:          "enhance this photo",
		UserID:          userID,
		UploadedImages:  []string{uploadURL},
		QualityPriority: QualityQuality,
	})
	require.NoError(t, err)
	require.True(t, result.Success, result.ErrorMessage)
	assert.Equal(t, ImageSourceUploaded, result.ImageSourceType)
	assert.Equal(t, uploadURL, result.InputImageUsed)
	assert.Equal(t, 80, p.last(t).input["num_inference_steps"])
}

func TestGenerateReportsTimeoutAndFailure(t *testing.T) {
	ctx := context.Background()
	o, ts, p := newTestOrchestrator(t)

	p.err = errors.Wrap(replicate.ErrPredictionTimeout, "prediction p1 after 60 attempts")
	result, err := o.Generate(ctx, &Request{Prompt: "a cat in a hat", UserID: userID, SessionID: "session-3"})
	require.NoError(t, err)
	assert.False(t, result.Success)
	assert.Empty(t, result.OutputURL)
	assert.Contains(t, result.ErrorMessage, "timed out")

	p.err = errors.Wrap(replicate.ErrPredictionFailed, "NSFW content detected")
	result, err = o.Generate(ctx, &Request{Prompt: "a cat in a hat", UserID: userID, SessionID: "session-3"})
	require.NoError(t, err)
	assert.False(t, result.Success)
	assert.Contains(t, result.ErrorMessage, "NSFW content detected")
	assert.NotContains(t, result.ErrorMessage, "timed out")

	image, err := ts.GetWorkingImage(ctx, "session-3")
	require.NoError(t, err)
	assert.Empty(t, image)

	history, err := ts.ListGenerations(ctx, &store.FindGeneration{UserID: &[]string{userID}[0]})
	require.NoError(t, err)
	assert.Len(t, history, 2)
	for _, h := range history {
		assert.False(t, h.Success)
	}
}

func TestGenerateContractViolations(t *testing.T) {
	o, _, _ := newTestOrchestrator(t)
	_, err := o.Generate(context.Background(), nil)
	require.Error(t, err)
	_, err = o.Generate(context.Background(), &Request{Prompt: "a cat"})
	require.Error(t, err)
}

func TestMergeReferences(t *testing.T) {
	resolved := []*store.Reference{
		{Tag: "horse", ImageURL: horseURL},
		{Tag: "Me", ImageURL: meURL},
	}
	refs := mergeReferences([]string{"me", "horse"}, []ReferenceImage{{URI: uploadURL, Tag: "extra"}}, resolved)
	require.Len(t, refs, 3)
	assert.Equal(t, meURL, refs[0].URL)
	assert.Equal(t, horseURL, refs[1].URL)
	assert.Equal(t, uploadURL, refs[2].URL)
}

func TestMergeReferencesKeepsUntaggedByPosition(t *testing.T) {
	first, second := "https://cdn.example.com/1.png", "https://cdn.example.com/2.png"
	refs := mergeReferences(nil, []ReferenceImage{{URI: first}, {URI: second}, {URI: horseURL, Tag: "@horse"}}, nil)
	require.Len(t, refs, 3)
	assert.Equal(t, first, refs[0].URL)
	assert.Equal(t, second, refs[1].URL)
	assert.Equal(t, horseURL, refs[2].URL)
	assert.Equal(t, "horse", refs[2].Tag)

	refs = mergeReferences([]string{"me"}, []ReferenceImage{{URI: first}, {URI: second}}, []*store.Reference{{Tag: "me", ImageURL: meURL}})
	require.Len(t, refs, 3)
	assert.Equal(t, []string{meURL, first, second}, []string{refs[0].URL, refs[1].URL, refs[2].URL})
}

func TestGenerateReferenceIntentOnTextModelFails(t *testing.T) {
	reasoner := cannedReasoner{answer: `{"intent":"transfer","confidence":0.9,"reasoning":"put the person in","recommendedModel":"stable-diffusion"}`}
	o, ts, p := newTestOrchestratorWithReasoner(t, reasoner)

	result, err := o.Generate(context.Background(), &Request{
		Prompt:              "Put @me on the horse",
		UserID:              userID,
		SessionID:           "session-5",
		CurrentWorkingImage: workingURL,
		ReferenceImages:     []ReferenceImage{{URI: meURL, Tag: "me"}},
	})
	require.NoError(t, err)
	assert.False(t, result.Success)
	assert.Contains(t, result.ErrorMessage, "not supported for reference operations")
	assert.Empty(t, result.OutputURL)
	assert.Empty(t, result.ReferencesUsed)
	assert.Empty(t, p.calls)

	image, err := ts.GetWorkingImage(context.Background(), "session-5")
	require.NoError(t, err)
	assert.Empty(t, image)
}

func TestGenerateReferenceIntentOnEditModel(t *testing.T) {
	reasoner := cannedReasoner{answer: `{"intent":"transfer","confidence":0.9,"recommendedModel":"kontext-max"}`}
	o, _, p := newTestOrchestratorWithReasoner(t, reasoner)

	// Backfill supplies the active image and the primary reference.
	result, err := o.Generate(context.Background(), &Request{Prompt: "Put @me here", UserID: userID, CurrentWorkingImage: workingURL})
	require.NoError(t, err)
	require.True(t, result.Success, result.ErrorMessage)
	assert.Equal(t, workingURL, p.last(t).input["image"])

	// Without an active image there is nothing to edit.
	calls := len(p.calls)
	result, err = o.Generate(context.Background(), &Request{Prompt: "Put @me here", UserID: userID})
	require.NoError(t, err)
	assert.False(t, result.Success)
	assert.Len(t, p.calls, calls)
}

func TestGenerateMentionWithUploadIsSwap(t *testing.T) {
	o, _, p := newTestOrchestrator(t)
	result, err := o.Generate(context.Background(), &Request{
		Prompt:         "Put @me on a horse",
		UserID:         userID,
		UploadedImages: []string{uploadURL},
	})
	require.NoError(t, err)
	require.True(t, result.Success, result.ErrorMessage)
	decision := result.Metadata["decision"].(*intent.Decision)
	assert.Equal(t, intent.Swap, decision.Intent)
	assert.Empty(t, decision.ReferenceUsage.ActiveImage)
	assert.Equal(t, ImageSourceNone, result.ImageSourceType)
	call := p.last(t)
	assert.Equal(t, meURL, call.input["reference_image"])
	assert.NotContains(t, call.input, "base_image")
}

func TestGenerateDecisionActiveImageSource(t *testing.T) {
	reasoner := cannedReasoner{answer: `{"intent":"transfer","confidence":0.9,"recommendedModel":"runway-gen4",` +
		`"referenceUsage":{"activeImage":"` + horseURL + `","primary":"` + meURL + `","operation":"person-swap"}}`}
	o, _, _ := newTestOrchestratorWithReasoner(t, reasoner)

	result, err := o.Generate(context.Background(), &Request{
		Prompt:              "Put @me on the horse",
		UserID:              userID,
		CurrentWorkingImage: workingURL,
		UploadedImages:      []string{uploadURL},
	})
	require.NoError(t, err)
	require.True(t, result.Success, result.ErrorMessage)
	assert.Equal(t, horseURL, result.InputImageUsed)
	assert.Equal(t, ImageSourceNone, result.ImageSourceType)
}

func TestImageSource(t *testing.T) {
	uploads := []string{uploadURL}
	assert.Equal(t, ImageSourceNone, imageSource("", workingURL, uploads))
	assert.Equal(t, ImageSourceWorkingImage, imageSource(workingURL, workingURL, uploads))
	assert.Equal(t, ImageSourceUploaded, imageSource(uploadURL, workingURL, uploads))
	assert.Equal(t, ImageSourceNone, imageSource(horseURL, workingURL, uploads))
}

func TestApplyQuality(t *testing.T) {
	p := intent.Parameters{}
	applyQuality(&p, QualityBalanced)
	assert.Nil(t, p.Steps)

	steps := 30
	p.Steps = &steps
	applyQuality(&p, QualitySpeed)
	assert.Equal(t, 20, *p.Steps)
}

type fakeMirror struct {
	key string
	err error
}

func (m *fakeMirror) Mirror(_ context.Context, key, _ string) (string, error) {
	m.key = key
	if m.err != nil {
		return "", m.err
	}
	return "https://bucket.example.com/" + key, nil
}

func TestGenerateMirrorsOutput(t *testing.T) {
	ctx := context.Background()
	m := &fakeMirror{}
	o, ts, _ := newTestOrchestrator(t, WithMirror(m))

	result, err := o.Generate(ctx, &Request{Prompt: "a cat in a hat", UserID: userID, SessionID: "session-4"})
	require.NoError(t, err)
	require.True(t, result.Success, result.ErrorMessage)
	assert.Equal(t, "generations/"+userID+"/"+result.GenerationID+".png", m.key)
	assert.Equal(t, "https://bucket.example.com/"+m.key, result.OutputURL)
	assert.Equal(t, outputURL, result.Metadata["provider_output_url"])

	image, err := ts.GetWorkingImage(ctx, "session-4")
	require.NoError(t, err)
	assert.Equal(t, result.OutputURL, image)

	m.err = errors.New("bucket unavailable")
	result, err = o.Generate(ctx, &Request{Prompt: "a cat in a hat", UserID: userID})
	require.NoError(t, err)
	require.True(t, result.Success)
	assert.Equal(t, outputURL, result.OutputURL)
}
