package generation

import (
	"context"
	"sync"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/picarcade/picarcade/plugin/intent"
	"github.com/picarcade/picarcade/plugin/replicate"
)

const (
	workingURL = "https://cdn.example.com/working.png"
	uploadURL  = "https://cdn.example.com/upload.png"
	meURL      = "https://cdn.example.com/me.png"
	horseURL   = "https://cdn.example.com/horse.png"
	outputURL  = "https://cdn.example.com/out.png"
)

type providerCall struct {
	version string
	input   map[string]any
}

type fakeProvider struct {
	mu      sync.Mutex
	calls   []providerCall
	outputs []string
	err     error
}

func newFakeProvider() *fakeProvider {
	return &fakeProvider{outputs: []string{outputURL, "https://cdn.example.com/second.png"}}
}

func (p *fakeProvider) Run(_ context.Context, version string, input map[string]any) ([]string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls = append(p.calls, providerCall{version: version, input: input})
	return p.outputs, p.err
}

func (p *fakeProvider) last(t *testing.T) providerCall {
	t.Helper()
	p.mu.Lock()
	defer p.mu.Unlock()
	require.NotEmpty(t, p.calls)
	return p.calls[len(p.calls)-1]
}

func gen4(op intent.Operation, usage intent.ReferenceUsage) *intent.Decision {
	usage.Operation = op
	return &intent.Decision{Intent: intent.Transfer, RecommendedModel: intent.ModelRunwayGen4, ReferenceUsage: &usage}
}

func TestRoutePersonSwapIntoActiveImage(t *testing.T) {
	p := newFakeProvider()
	d, err := NewRouter(p, nil).Route(context.Background(), &RouteRequest{
		Decision: gen4(intent.OperationPersonSwap, intent.ReferenceUsage{ActiveImage: workingURL, Primary: meURL, Secondary: horseURL}),
		Prompt:   "Put @me on the horse",
	})
	require.NoError(t, err)
	assert.Equal(t, outputURL, d.OutputURL)
	assert.IsType(t, TransferPlan{}, d.Plan)

	call := p.last(t)
	assert.Equal(t, DefaultVersions[EndpointPersonTransfer], call.version)
	assert.Equal(t, workingURL, call.input["base_image"])
	assert.Equal(t, meURL, call.input["reference_image"])
	assert.Equal(t, "person-swap", call.input["operation_type"])
	assert.Equal(t, "Put @me on the horse", call.input["prompt"])
	assert.NotContains(t, call.input, "person_image")
	assert.NotContains(t, call.input, "scene_image")
}

func TestRoutePersonSwapBetweenReferences(t *testing.T) {
	p := newFakeProvider()
	_, err := NewRouter(p, nil).Route(context.Background(), &RouteRequest{
		Decision: gen4(intent.OperationObjectPlacement, intent.ReferenceUsage{Primary: meURL, Secondary: horseURL}),
	})
	require.NoError(t, err)
	call := p.last(t)
	assert.Equal(t, meURL, call.input["person_image"])
	assert.Equal(t, horseURL, call.input["scene_image"])
	assert.NotContains(t, call.input, "base_image")
	assert.NotContains(t, call.input, "reference_image")
}

func TestRoutePersonSwapSingleReference(t *testing.T) {
	p := newFakeProvider()
	d, err := NewRouter(p, nil).Route(context.Background(), &RouteRequest{
		Decision: gen4(intent.OperationPersonSwap, intent.ReferenceUsage{Primary: meURL}),
	})
	require.NoError(t, err)
	assert.Empty(t, d.Plan.InputImage())
	call := p.last(t)
	assert.Equal(t, meURL, call.input["reference_image"])
	assert.NotContains(t, call.input, "person_image")
}

func TestRouteStyleTransfer(t *testing.T) {
	p := newFakeProvider()
	_, err := NewRouter(p, nil).Route(context.Background(), &RouteRequest{
		Decision: gen4(intent.OperationAppearanceCopy, intent.ReferenceUsage{ActiveImage: workingURL, Primary: meURL}),
	})
	require.NoError(t, err)
	call := p.last(t)
	assert.Equal(t, DefaultVersions[EndpointStyleTransfer], call.version)
	assert.Equal(t, workingURL, call.input["base_image"])
	assert.Equal(t, meURL, call.input["style_reference"])
}

func TestRouteRejectsUnfillableSlots(t *testing.T) {
	for name, d := range map[string]*intent.Decision{
		"style without active image": gen4(intent.OperationStyleTransfer, intent.ReferenceUsage{Primary: meURL}),
		"swap without references":    gen4(intent.OperationPersonSwap, intent.ReferenceUsage{ActiveImage: workingURL}),
		"unknown operation":          gen4("teleport", intent.ReferenceUsage{Primary: meURL}),
		"no reference usage":         {RecommendedModel: intent.ModelRunwayGen4},
		"edit without image":         {RecommendedModel: intent.ModelKontextMax},
		"unknown model":              {RecommendedModel: "midjourney"},
	} {
		p := newFakeProvider()
		d, err := NewRouter(p, nil).Route(context.Background(), &RouteRequest{Decision: d})
		require.Error(t, err, name)
		assert.True(t, errors.Is(err, ErrConfiguration), name)
		assert.Nil(t, d, name)
		assert.Empty(t, p.calls, name)
	}
}

func TestRouteReferenceIntentsNeedReferenceBackend(t *testing.T) {
	usage := &intent.ReferenceUsage{ActiveImage: workingURL, Primary: meURL, Operation: intent.OperationPersonSwap}
	for name, d := range map[string]*intent.Decision{
		"transfer on text model": {Intent: intent.Transfer, RecommendedModel: intent.ModelStableDiffusion, ReferenceUsage: usage},
		"style on video model":   {Intent: intent.Style, RecommendedModel: intent.ModelRunwayGen3, ReferenceUsage: usage},
		"swap on dalle":          {Intent: intent.Swap, RecommendedModel: intent.ModelDalle},
		"edit model no usage":    {Intent: intent.Transfer, RecommendedModel: intent.ModelKontextMax},
		"edit model no primary": {
			Intent:           intent.Style,
			RecommendedModel: intent.ModelKontextMax,
			ReferenceUsage:   &intent.ReferenceUsage{ActiveImage: workingURL, Operation: intent.OperationStyleTransfer},
		},
	} {
		p := newFakeProvider()
		dispatch, err := NewRouter(p, nil).Route(context.Background(), &RouteRequest{
			Decision:       d,
			Prompt:         "Put @me on the horse",
			WorkingImage:   workingURL,
			UploadedImages: []string{uploadURL},
		})
		require.Error(t, err, name)
		assert.True(t, errors.Is(err, ErrConfiguration), name)
		assert.Nil(t, dispatch, name)
		assert.Empty(t, p.calls, name)
	}

	_, err := BuildPlan(&RouteRequest{Decision: &intent.Decision{Intent: intent.Transfer, RecommendedModel: intent.ModelStableDiffusion}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), `model "stable-diffusion" not supported for reference operations`)
}

func TestRouteEditDefaults(t *testing.T) {
	p := newFakeProvider()
	d, err := NewRouter(p, nil).Route(context.Background(), &RouteRequest{
		Decision:       &intent.Decision{Intent: intent.Edit, RecommendedModel: intent.ModelKontextMax},
		Prompt:         "make the sky red",
		UploadedImages: []string{uploadURL},
	})
	require.NoError(t, err)
	assert.Equal(t, uploadURL, d.Plan.InputImage())
	call := p.last(t)
	assert.Equal(t, DefaultVersions[EndpointKontext], call.version)
	assert.Equal(t, map[string]any{
		"prompt":              "make the sky red",
		"image":               uploadURL,
		"strength":            0.8,
		"guidance_scale":      7.5,
		"num_inference_steps": 50,
	}, call.input)
}

func TestRouteEditPrefersWorkingImage(t *testing.T) {
	p := newFakeProvider()
	decision := &intent.Decision{Intent: intent.Edit, RecommendedModel: intent.ModelKontextMax, Parameters: intent.DefaultParameters(intent.Edit)}
	_, err := NewRouter(p, nil).Route(context.Background(), &RouteRequest{
		Decision:       decision,
		WorkingImage:   workingURL,
		UploadedImages: []string{uploadURL},
	})
	require.NoError(t, err)
	call := p.last(t)
	assert.Equal(t, workingURL, call.input["image"])
	assert.Equal(t, 0.7, call.input["strength"])
}

func TestRouteEditOnReferenceActiveImage(t *testing.T) {
	p := newFakeProvider()
	decision := &intent.Decision{
		Intent:           intent.Transfer,
		RecommendedModel: intent.ModelKontextMax,
		ReferenceUsage:   &intent.ReferenceUsage{ActiveImage: horseURL, Primary: meURL, Operation: intent.OperationPersonSwap},
	}
	_, err := NewRouter(p, nil).Route(context.Background(), &RouteRequest{Decision: decision, WorkingImage: workingURL})
	require.NoError(t, err)
	assert.Equal(t, horseURL, p.last(t).input["image"])
}

func TestRouteTextBackends(t *testing.T) {
	p := newFakeProvider()
	r := NewRouter(p, Versions{EndpointDalle: "custom/dalle"})

	d, err := r.Route(context.Background(), &RouteRequest{
		Decision:     &intent.Decision{RecommendedModel: intent.ModelRunwayGen3},
		Prompt:       "turn this into a video",
		WorkingImage: workingURL,
	})
	require.NoError(t, err)
	assert.Equal(t, EndpointImageToVideo, d.Plan.Endpoint())
	assert.Equal(t, workingURL, p.last(t).input["image"])

	d, err = r.Route(context.Background(), &RouteRequest{
		Decision:     &intent.Decision{RecommendedModel: intent.ModelRunwayGen3},
		Prompt:       "a sunset over the sea",
		WorkingImage: workingURL,
	})
	require.NoError(t, err)
	assert.Equal(t, EndpointGen3, d.Plan.Endpoint())
	assert.NotContains(t, p.last(t).input, "image")

	d, err = r.Route(context.Background(), &RouteRequest{
		Decision:       &intent.Decision{RecommendedModel: intent.ModelStableDiffusion},
		Prompt:         "a video game cat",
		UploadedImages: []string{uploadURL},
	})
	require.NoError(t, err)
	assert.Empty(t, d.Plan.InputImage())
	assert.NotContains(t, p.last(t).input, "image")

	_, err = r.Route(context.Background(), &RouteRequest{
		Decision: &intent.Decision{RecommendedModel: intent.ModelDalle},
		Prompt:   "a cat",
		Extra:    map[string]any{"aspect_ratio": "16:9"},
	})
	require.NoError(t, err)
	call := p.last(t)
	assert.Equal(t, "custom/dalle", call.version)
	assert.Equal(t, "16:9", call.input["aspect_ratio"])
}

func TestRouteReportsProviderFailure(t *testing.T) {
	p := newFakeProvider()
	p.err = errors.Wrap(replicate.ErrPredictionFailed, "NSFW")
	d, err := NewRouter(p, nil).Route(context.Background(), &RouteRequest{
		Decision: &intent.Decision{RecommendedModel: intent.ModelStableDiffusion},
	})
	require.Error(t, err)
	assert.True(t, errors.Is(err, replicate.ErrPredictionFailed))
	require.NotNil(t, d)
	assert.Empty(t, d.OutputURL)

	p.err, p.outputs = nil, nil
	_, err = NewRouter(p, nil).Route(context.Background(), &RouteRequest{
		Decision: &intent.Decision{RecommendedModel: intent.ModelStableDiffusion},
	})
	require.Error(t, err)
}
