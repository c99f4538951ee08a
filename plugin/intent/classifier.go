package intent

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/pkg/errors"

	"github.com/picarcade/picarcade/plugin/mention"
	"github.com/picarcade/picarcade/plugin/reasoning"
)

// Classifier asks a reasoning model for a decision and falls back to Heuristic when
// the model cannot be reached or its answer does not parse.
type Classifier struct {
	reasoner reasoning.Service
}

// NewClassifier returns a classifier. A nil reasoner means heuristic only.
func NewClassifier(reasoner reasoning.Service) *Classifier {
	return &Classifier{reasoner: reasoner}
}

// Classify never fails: either the remote decision or the heuristic one is returned,
// never a blend of both.
func (c *Classifier) Classify(ctx context.Context, in *Input) *Decision {
	if c.reasoner == nil {
		return Heuristic(in)
	}
	d, err := c.remote(ctx, in)
	if err != nil {
		slog.Warn("[INTENT FALLBACK]", "err", err)
		return Heuristic(in)
	}
	slog.Info("[INTENT REMOTE]", "intent", d.Intent, "model", d.RecommendedModel, "confidence", d.Confidence)
	return d
}

func (c *Classifier) remote(ctx context.Context, in *Input) (*Decision, error) {
	answer, err := c.reasoner.Reason(ctx, in.Prompt, SystemPrompt(in))
	if err != nil {
		return nil, err
	}
	return ParseDecision(answer)
}

// ParseDecision extracts the decision object from a model answer and checks it
// against the known vocabulary. Unset parameters stay unset; each back end has its
// own defaults.
func ParseDecision(answer string) (*Decision, error) {
	raw := extractJSON(answer)
	if raw == "" {
		return nil, errors.New("no JSON object in reasoning answer")
	}
	d := &Decision{}
	if err := json.Unmarshal([]byte(raw), d); err != nil {
		return nil, errors.Wrap(err, "malformed decision")
	}
	if !d.Intent.Valid() {
		return nil, errors.Errorf("unknown intent %q", d.Intent)
	}
	if !d.RecommendedModel.Valid() {
		return nil, errors.Errorf("unknown model %q", d.RecommendedModel)
	}
	if d.Confidence < 0 || d.Confidence > 1 {
		return nil, errors.Errorf("confidence %v out of range", d.Confidence)
	}
	if d.ReferenceUsage != nil && !d.ReferenceUsage.Operation.Valid() {
		return nil, errors.Errorf("unknown operation %q", d.ReferenceUsage.Operation)
	}
	return d, nil
}

// extractJSON returns the first balanced {...} object in s, skipping braces inside
// string literals. Markdown fences around the object are tolerated.
func extractJSON(s string) string {
	start := strings.Index(s, "{")
	if start == -1 {
		return ""
	}
	depth := 0
	inString, escaped := false, false
	for i := start; i < len(s); i++ {
		ch := s[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case ch == '\\':
				escaped = true
			case ch == '"':
				inString = false
			}
			continue
		}
		switch ch {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return s[start : i+1]
			}
		}
	}
	return ""
}

// SystemPrompt describes the request context and the answer format to the model.
func SystemPrompt(in *Input) string {
	mentions := in.Mentions
	if mentions == nil {
		mentions = mention.Parse(in.Prompt)
	}
	tags := make([]string, 0, len(in.References))
	for _, ref := range in.References {
		tags = append(tags, ref.Tag)
	}

	var sb strings.Builder
	sb.WriteString("You classify user intent for an image and video generation service that supports tagged reference images.\n\n")
	sb.WriteString("Context:\n")
	fmt.Fprintf(&sb, "- Has Active Image: %t\n", in.HasActiveImage())
	fmt.Fprintf(&sb, "- Has Upload: %t\n", in.HasUpload())
	fmt.Fprintf(&sb, "- Has Reference: %t\n", in.HasReference())
	fmt.Fprintf(&sb, "- Reference Mentions: %s\n", orNone(strings.Join(mentions, ", ")))
	fmt.Fprintf(&sb, "- Previous Context: %s\n", orNone(in.PreviousContext))
	fmt.Fprintf(&sb, "- Available References: %s\n", orNone(strings.Join(tags, ", ")))
	sb.WriteString(`
Intents:
- create: new content from scratch (stable-diffusion or dalle for images, runway-gen3 for video)
- edit: change an existing active image (kontext-max)
- enhance: improve or upscale the active image (kontext-max)
- transfer: place a mentioned person or object into the active image (runway-gen4, person-swap or object-placement)
- style: copy a look, haircut or outfit from a reference onto the active image (runway-gen4, style-transfer or appearance-copy)
- swap: mentions without an active image, compose a scene from the references (runway-gen4, person-swap)
- generate: variations or motion from existing content
- modify: specific alterations to the active image (kontext-max)

Rules:
- @mentions with an active image mean transfer or style.
- @mentions without an active image mean swap.
- With several @mentions use the first as primary and the second as secondary.

Respond with JSON only:
{
  "intent": "create|edit|enhance|transfer|style|swap|generate|modify",
  "confidence": 0.0-1.0,
  "reasoning": "short explanation",
  "recommendedModel": "runway-gen3|runway-gen4|kontext-max|stable-diffusion|dalle",
  "subModel": "persona|style|image-to-video",
  "parameters": {"strength": 0.0-1.0, "guidance_scale": 1-30, "steps": 20-100, "seed": null},
  "referenceUsage": {
    "primary": "reference_image_url",
    "secondary": "second_reference_url",
    "activeImage": "current_working_image_url",
    "operation": "person-swap|style-transfer|object-placement|appearance-copy"
  }
}`)
	return sb.String()
}

func orNone(s string) string {
	if s == "" {
		return "None"
	}
	return s
}
