package generation

import (
	"context"
	"log/slog"
	"maps"

	"github.com/pkg/errors"

	"github.com/picarcade/picarcade/plugin/intent"
)

// ErrConfiguration means a decision cannot be turned into a provider call, e.g.
// a required image slot is empty.
var ErrConfiguration = errors.New("generation configuration error")

// RouteRequest is everything the router needs besides the provider.
type RouteRequest struct {
	Decision *intent.Decision
	Prompt   string
	// WorkingImage is the active image of the session, if any.
	WorkingImage   string
	UploadedImages []string
	// Extra is merged over the provider input.
	Extra map[string]any
}

// Dispatch describes a provider call and its outcome.
type Dispatch struct {
	Plan      Plan
	Version   string
	Input     map[string]any
	OutputURL string
}

// Router maps decisions to back ends.
type Router struct {
	provider Provider
	versions Versions
}

// NewRouter returns a router. Missing versions fall back to DefaultVersions.
func NewRouter(provider Provider, versions Versions) *Router {
	merged := maps.Clone(DefaultVersions)
	maps.Copy(merged, versions)
	return &Router{provider: provider, versions: merged}
}

// Route builds the plan, runs it and keeps the first output artifact. The returned
// Dispatch is non-nil whenever a plan could be built, even if the provider failed.
func (r *Router) Route(ctx context.Context, req *RouteRequest) (*Dispatch, error) {
	plan, err := BuildPlan(req)
	if err != nil {
		return nil, err
	}
	d := &Dispatch{
		Plan:    plan,
		Version: r.versions[plan.Endpoint()],
		Input:   plan.payload(req.Prompt, req.Decision.Parameters),
	}
	maps.Copy(d.Input, req.Extra)

	slog.Info("[GENERATION ROUTE]", "model", req.Decision.RecommendedModel, "endpoint", plan.Endpoint(), "version", d.Version)
	outputs, err := r.provider.Run(ctx, d.Version, d.Input)
	if err != nil {
		return d, err
	}
	if len(outputs) == 0 {
		return d, errors.New("provider returned no output")
	}
	d.OutputURL = outputs[0]
	return d, nil
}

// BuildPlan selects the back end for the decision and fills its image slots.
func BuildPlan(req *RouteRequest) (Plan, error) {
	d := req.Decision
	if d == nil {
		return nil, errors.Wrap(ErrConfiguration, "no decision")
	}
	if d.Intent.UsesReferences() {
		return referenceModelPlan(d)
	}
	switch d.RecommendedModel {
	case intent.ModelRunwayGen4:
		return referencePlan(d.ReferenceUsage)
	case intent.ModelKontextMax:
		image := editImage(req)
		if image == "" {
			return nil, errors.Wrap(ErrConfiguration, "image editing needs a working or uploaded image")
		}
		return EditPlan{Image: image}, nil
	case intent.ModelRunwayGen3:
		plan := TextPlan{Model: d.RecommendedModel}
		if image := firstImage(req); image != "" && (d.SubModel == intent.SubModelImageToVideo || intent.WantsMotion(req.Prompt)) {
			plan.Image = image
		}
		return plan, nil
	case intent.ModelStableDiffusion, intent.ModelDalle:
		return TextPlan{Model: d.RecommendedModel}, nil
	default:
		return nil, errors.Wrapf(ErrConfiguration, "model %q is not supported", d.RecommendedModel)
	}
}

// referenceModelPlan serves transfer, style and swap. Only the reference back end,
// or the editing back end with both an active image and a primary reference, can
// honour the references.
func referenceModelPlan(d *intent.Decision) (Plan, error) {
	switch d.RecommendedModel {
	case intent.ModelRunwayGen4:
		return referencePlan(d.ReferenceUsage)
	case intent.ModelKontextMax:
		u := d.ReferenceUsage
		if u == nil || u.ActiveImage == "" || u.Primary == "" {
			return nil, errors.Wrapf(ErrConfiguration, "%s needs an active image and a primary reference for %s", d.RecommendedModel, d.Intent)
		}
		return EditPlan{Image: u.ActiveImage}, nil
	default:
		return nil, errors.Wrapf(ErrConfiguration, "model %q not supported for reference operations", d.RecommendedModel)
	}
}

func referencePlan(u *intent.ReferenceUsage) (Plan, error) {
	if u == nil {
		return nil, errors.Wrap(ErrConfiguration, "no reference usage specified for reference-based operation")
	}
	switch u.Operation {
	case intent.OperationPersonSwap, intent.OperationObjectPlacement:
		switch {
		case u.ActiveImage != "" && u.Primary != "":
			return TransferPlan{Operation: u.Operation, ActiveImage: u.ActiveImage, Primary: u.Primary}, nil
		case u.Primary != "" && u.Secondary != "":
			return SwapPlan{Operation: u.Operation, Primary: u.Primary, Secondary: u.Secondary}, nil
		case u.Primary != "":
			return SwapPlan{Operation: u.Operation, Primary: u.Primary}, nil
		}
		return nil, errors.Wrapf(ErrConfiguration, "%s needs a primary reference", u.Operation)
	case intent.OperationStyleTransfer, intent.OperationAppearanceCopy:
		if u.ActiveImage == "" || u.Primary == "" {
			return nil, errors.Wrapf(ErrConfiguration, "%s needs an active image and a primary reference", u.Operation)
		}
		return StylePlan{Operation: u.Operation, ActiveImage: u.ActiveImage, Primary: u.Primary}, nil
	default:
		return nil, errors.Wrapf(ErrConfiguration, "unknown operation %q", u.Operation)
	}
}

// editImage prefers the active image named by the decision, then the working
// image, then the first upload.
func editImage(req *RouteRequest) string {
	if u := req.Decision.ReferenceUsage; u != nil && u.ActiveImage != "" && u.Primary != "" {
		return u.ActiveImage
	}
	return firstImage(req)
}

func firstImage(req *RouteRequest) string {
	if req.WorkingImage != "" {
		return req.WorkingImage
	}
	if len(req.UploadedImages) > 0 {
		return req.UploadedImages[0]
	}
	return ""
}
