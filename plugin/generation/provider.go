// Package generation turns classified requests into provider calls.
package generation

import (
	"context"

	"github.com/pkg/errors"

	"github.com/picarcade/picarcade/plugin/replicate"
)

// Endpoint is a concrete model behind a back end.
type Endpoint string

const (
	EndpointGen3            Endpoint = "gen3"
	EndpointGen4            Endpoint = "gen4"
	EndpointImageToVideo    Endpoint = "imageToVideo"
	EndpointPersonTransfer  Endpoint = "personTransfer"
	EndpointStyleTransfer   Endpoint = "styleTransfer"
	EndpointKontext         Endpoint = "kontext"
	EndpointStableDiffusion Endpoint = "stableDiffusion"
	EndpointDalle           Endpoint = "dalle"
)

// Versions maps endpoints to provider model versions.
type Versions map[Endpoint]string

// DefaultVersions are the hosted models used when nothing else is configured.
var DefaultVersions = Versions{
	EndpointGen3:            "runwayml/gen-3-alpha-turbo",
	EndpointGen4:            "runwayml/gen-4-turbo",
	EndpointImageToVideo:    "runwayml/gen-2",
	EndpointPersonTransfer:  "runwayml/gen-4-persona",
	EndpointStyleTransfer:   "runwayml/gen-4-style",
	EndpointKontext:         "kontext-max/flux-dev-inpainting",
	EndpointStableDiffusion: "stability-ai/sdxl",
	EndpointDalle:           "openai/dall-e-3",
}

// Provider runs one generation job to completion and returns its output artifacts.
type Provider interface {
	Run(ctx context.Context, version string, input map[string]any) ([]string, error)
}

// ReplicateProvider runs jobs as Replicate predictions.
type ReplicateProvider struct {
	client *replicate.Client
}

func NewReplicateProvider(client *replicate.Client) *ReplicateProvider {
	return &ReplicateProvider{client: client}
}

func (p *ReplicateProvider) Run(ctx context.Context, version string, input map[string]any) ([]string, error) {
	prediction, err := p.client.Run(ctx, version, input)
	if err != nil {
		return nil, err
	}
	outputs, err := prediction.OutputStrings()
	if err != nil {
		return nil, err
	}
	if len(outputs) == 0 {
		return nil, errors.Errorf("prediction %s returned no output", prediction.ID)
	}
	return outputs, nil
}
