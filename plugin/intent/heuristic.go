package intent

import (
	"fmt"
	"strings"

	"github.com/picarcade/picarcade/plugin/mention"
)

// Keyword sets of the fallback classifier. Evaluated in order, first match wins.
var (
	styleKeywords   = []string{"apply", "give", "use", "style", "haircut", "outfit", "look"}
	editKeywords    = []string{"edit", "change", "modify", "alter", "adjust", "fix", "update"}
	enhanceKeywords = []string{"enhance", "improve", "better", "higher quality", "upscale", "sharpen"}
	motionKeywords  = []string{"video", "motion"}
	animateKeywords = []string{"video", "motion", "animate"}
)

// Heuristic is the deterministic fallback classifier. It is total: every input
// yields a decision.
func Heuristic(in *Input) *Decision {
	lower := strings.ToLower(in.Prompt)
	mentions := in.Mentions
	if mentions == nil {
		mentions = mention.Parse(in.Prompt)
	}

	d := &Decision{}
	if len(mentions) > 0 {
		primary, secondary := referenceURL(in, 0), referenceURL(in, 1)
		switch {
		case in.HasActiveImage() && containsAny(lower, styleKeywords):
			d.Intent, d.RecommendedModel, d.SubModel, d.Confidence = Style, ModelRunwayGen4, SubModelStyle, 0.8
			d.ReferenceUsage = &ReferenceUsage{ActiveImage: in.ActiveImageURL, Primary: primary, Operation: OperationStyleTransfer}
		case in.HasActiveImage():
			d.Intent, d.RecommendedModel, d.SubModel, d.Confidence = Transfer, ModelRunwayGen4, SubModelPersona, 0.8
			d.ReferenceUsage = &ReferenceUsage{ActiveImage: in.ActiveImageURL, Primary: primary, Operation: OperationPersonSwap}
		default:
			d.Intent, d.RecommendedModel, d.SubModel, d.Confidence = Swap, ModelRunwayGen4, SubModelPersona, 0.7
			d.ReferenceUsage = &ReferenceUsage{Primary: primary, Secondary: secondary, Operation: OperationPersonSwap}
		}
	} else if in.HasActiveImage() {
		switch {
		case containsAny(lower, editKeywords):
			d.Intent, d.RecommendedModel, d.Confidence = Edit, ModelKontextMax, 0.8
		case containsAny(lower, enhanceKeywords):
			d.Intent, d.RecommendedModel, d.Confidence = Enhance, ModelKontextMax, 0.8
		case containsAny(lower, motionKeywords):
			d.Intent, d.RecommendedModel, d.Confidence = Generate, ModelRunwayGen3, 0.7
		default:
			d.Intent, d.RecommendedModel, d.Confidence = Modify, ModelKontextMax, 0.6
		}
	} else {
		if containsAny(lower, animateKeywords) {
			d.Intent, d.RecommendedModel, d.Confidence = Create, ModelRunwayGen3, 0.9
		} else {
			d.Intent, d.RecommendedModel, d.Confidence = Create, ModelStableDiffusion, 0.8
		}
	}

	d.Reasoning = fmt.Sprintf("Fallback analysis: Detected %q with %d references", d.Intent, len(mentions))
	d.Parameters = DefaultParameters(d.Intent)
	return d
}

func referenceURL(in *Input, i int) string {
	if i < len(in.References) {
		return in.References[i].URL
	}
	return ""
}
