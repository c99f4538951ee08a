// Package intent classifies what a generation prompt asks for.
package intent

import "strings"

type Intent string

const (
	Create   Intent = "create"
	Edit     Intent = "edit"
	Enhance  Intent = "enhance"
	Generate Intent = "generate"
	Modify   Intent = "modify"
	Transfer Intent = "transfer"
	Style    Intent = "style"
	Swap     Intent = "swap"
)

func (i Intent) Valid() bool {
	switch i {
	case Create, Edit, Enhance, Generate, Modify, Transfer, Style, Swap:
		return true
	}
	return false
}

// UsesReferences reports whether the intent is served by the reference path.
func (i Intent) UsesReferences() bool {
	return i == Transfer || i == Style || i == Swap
}

// Model identifies a generation back end.
type Model string

const (
	// ModelRunwayGen3 is the text/video back end.
	ModelRunwayGen3 Model = "runway-gen3"
	// ModelRunwayGen4 is the reference-aware multi-image back end.
	ModelRunwayGen4 Model = "runway-gen4"
	// ModelKontextMax is the single-image editing back end.
	ModelKontextMax      Model = "kontext-max"
	ModelStableDiffusion Model = "stable-diffusion"
	ModelDalle           Model = "dalle"
)

func (m Model) Valid() bool {
	switch m {
	case ModelRunwayGen3, ModelRunwayGen4, ModelKontextMax, ModelStableDiffusion, ModelDalle:
		return true
	}
	return false
}

type SubModel string

const (
	SubModelPersona      SubModel = "persona"
	SubModelStyle        SubModel = "style"
	SubModelImageToVideo SubModel = "image-to-video"
)

type Operation string

const (
	OperationPersonSwap      Operation = "person-swap"
	OperationStyleTransfer   Operation = "style-transfer"
	OperationObjectPlacement Operation = "object-placement"
	OperationAppearanceCopy  Operation = "appearance-copy"
)

func (o Operation) Valid() bool {
	switch o {
	case OperationPersonSwap, OperationStyleTransfer, OperationObjectPlacement, OperationAppearanceCopy:
		return true
	}
	return false
}

// Places reports whether the operation puts a subject into a scene, as opposed
// to copying a look onto an image.
func (o Operation) Places() bool {
	return o == OperationPersonSwap || o == OperationObjectPlacement
}

// Parameters are the generation knobs a decision recommends.
type Parameters struct {
	Strength      *float64 `json:"strength,omitempty"`
	GuidanceScale *float64 `json:"guidance_scale,omitempty"`
	Steps         *int     `json:"steps,omitempty"`
	Seed          *int64   `json:"seed"`
}

// ReferenceUsage says which image fills which role.
type ReferenceUsage struct {
	Primary     string    `json:"primary,omitempty"`
	Secondary   string    `json:"secondary,omitempty"`
	ActiveImage string    `json:"activeImage,omitempty"`
	Operation   Operation `json:"operation"`
}

// Decision is the classifier output, in the JSON shape the reasoning model is asked for.
type Decision struct {
	Intent           Intent          `json:"intent"`
	Confidence       float64         `json:"confidence"`
	Reasoning        string          `json:"reasoning"`
	RecommendedModel Model           `json:"recommendedModel"`
	SubModel         SubModel        `json:"subModel,omitempty"`
	Parameters       Parameters      `json:"parameters"`
	ReferenceUsage   *ReferenceUsage `json:"referenceUsage,omitempty"`
}

// ReferenceImage is a resolved or request-provided reference.
type ReferenceImage struct {
	Tag         string `json:"tag"`
	URL         string `json:"url"`
	Description string `json:"description,omitempty"`
}

// Input is what the classifier knows about a request.
type Input struct {
	Prompt string
	// Mentions are the tags found in the prompt. Parsed from Prompt when nil.
	Mentions        []string
	ActiveImageURL  string
	UploadedImages  []string
	References      []ReferenceImage
	PreviousContext string
}

func (in *Input) HasActiveImage() bool { return in.ActiveImageURL != "" }
func (in *Input) HasUpload() bool      { return len(in.UploadedImages) > 0 }
func (in *Input) HasReference() bool   { return len(in.References) > 0 }

// DefaultParameters are the knobs of a heuristic decision.
func DefaultParameters(i Intent) Parameters {
	strength := 0.9
	if i == Edit {
		strength = 0.7
	}
	guidance := 7.5
	steps := 50
	return Parameters{Strength: &strength, GuidanceScale: &guidance, Steps: &steps}
}

// containsAny is a case-insensitive substring test, lower is already lowercased.
func containsAny(lower string, keywords []string) bool {
	for _, k := range keywords {
		if strings.Contains(lower, k) {
			return true
		}
	}
	return false
}

// WantsMotion reports whether the prompt asks for video or animation.
func WantsMotion(prompt string) bool {
	return containsAny(strings.ToLower(prompt), animateKeywords)
}
