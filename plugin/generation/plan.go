package generation

import (
	"maps"

	"github.com/picarcade/picarcade/plugin/intent"
)

// Plan is a fully resolved provider invocation. Each variant carries only the images
// its branch needs, so a plan with missing slots cannot be built.
type Plan interface {
	Endpoint() Endpoint
	// InputImage is the image the output is conditioned on, if any.
	InputImage() string
	payload(prompt string, params intent.Parameters) map[string]any
}

// TransferPlan places the subject of Primary into ActiveImage.
type TransferPlan struct {
	Operation   intent.Operation
	ActiveImage string
	Primary     string
}

// SwapPlan composes a new scene from references. Without Secondary the scene is
// generated fresh around Primary.
type SwapPlan struct {
	Operation intent.Operation
	Primary   string
	Secondary string
}

// StylePlan copies the look of Primary onto ActiveImage.
type StylePlan struct {
	Operation   intent.Operation
	ActiveImage string
	Primary     string
}

// EditPlan edits a single image.
type EditPlan struct {
	Image string
}

// TextPlan generates from the prompt alone, or animates Image when set.
type TextPlan struct {
	Model intent.Model
	Image string
}

func (TransferPlan) Endpoint() Endpoint { return EndpointPersonTransfer }
func (SwapPlan) Endpoint() Endpoint     { return EndpointPersonTransfer }
func (StylePlan) Endpoint() Endpoint    { return EndpointStyleTransfer }
func (EditPlan) Endpoint() Endpoint     { return EndpointKontext }

func (p TextPlan) Endpoint() Endpoint {
	switch {
	case p.Model == intent.ModelRunwayGen3 && p.Image != "":
		return EndpointImageToVideo
	case p.Model == intent.ModelRunwayGen3:
		return EndpointGen3
	case p.Model == intent.ModelDalle:
		return EndpointDalle
	default:
		return EndpointStableDiffusion
	}
}

func (p TransferPlan) InputImage() string { return p.ActiveImage }
func (SwapPlan) InputImage() string       { return "" }
func (p StylePlan) InputImage() string    { return p.ActiveImage }
func (p EditPlan) InputImage() string     { return p.Image }
func (p TextPlan) InputImage() string     { return p.Image }

func (p TransferPlan) payload(prompt string, params intent.Parameters) map[string]any {
	in := referencePayload(prompt, p.Operation, params)
	in["base_image"] = p.ActiveImage
	in["reference_image"] = p.Primary
	return in
}

func (p SwapPlan) payload(prompt string, params intent.Parameters) map[string]any {
	in := referencePayload(prompt, p.Operation, params)
	if p.Secondary != "" {
		in["person_image"] = p.Primary
		in["scene_image"] = p.Secondary
	} else {
		in["reference_image"] = p.Primary
	}
	return in
}

func (p StylePlan) payload(prompt string, params intent.Parameters) map[string]any {
	in := referencePayload(prompt, p.Operation, params)
	in["base_image"] = p.ActiveImage
	in["style_reference"] = p.Primary
	return in
}

func (p EditPlan) payload(prompt string, params intent.Parameters) map[string]any {
	strength, guidance, steps := 0.8, 7.5, 50
	if params.Strength != nil {
		strength = *params.Strength
	}
	if params.GuidanceScale != nil {
		guidance = *params.GuidanceScale
	}
	if params.Steps != nil {
		steps = *params.Steps
	}
	in := map[string]any{
		"prompt":              prompt,
		"image":               p.Image,
		"strength":            strength,
		"guidance_scale":      guidance,
		"num_inference_steps": steps,
	}
	if params.Seed != nil {
		in["seed"] = *params.Seed
	}
	return in
}

func (p TextPlan) payload(prompt string, params intent.Parameters) map[string]any {
	in := map[string]any{"prompt": prompt}
	maps.Copy(in, parameterMap(params))
	if p.Image != "" {
		in["image"] = p.Image
	}
	return in
}

func referencePayload(prompt string, op intent.Operation, params intent.Parameters) map[string]any {
	in := map[string]any{
		"prompt":         prompt,
		"operation_type": string(op),
	}
	maps.Copy(in, parameterMap(params))
	return in
}

func parameterMap(params intent.Parameters) map[string]any {
	m := map[string]any{}
	if params.Strength != nil {
		m["strength"] = *params.Strength
	}
	if params.GuidanceScale != nil {
		m["guidance_scale"] = *params.GuidanceScale
	}
	if params.Steps != nil {
		m["steps"] = *params.Steps
	}
	if params.Seed != nil {
		m["seed"] = *params.Seed
	}
	return m
}
