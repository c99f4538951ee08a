package generation

import (
	"context"
	"log/slog"
	neturl "net/url"
	"path"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"

	"github.com/picarcade/picarcade/plugin/intent"
	"github.com/picarcade/picarcade/plugin/mention"
	"github.com/picarcade/picarcade/plugin/reference"
	"github.com/picarcade/picarcade/store"
)

type QualityPriority string

const (
	QualitySpeed    QualityPriority = "speed"
	QualityBalanced QualityPriority = "balanced"
	QualityQuality  QualityPriority = "quality"
)

type ImageSource string

const (
	ImageSourceUploaded     ImageSource = "uploaded"
	ImageSourceWorkingImage ImageSource = "working_image"
	ImageSourceNone         ImageSource = "none"
)

const (
	defaultSteps   = 50
	minSpeedSteps  = 20
	qualitySteps   = 80
	maxSuggestions = 3
)

// ReferenceImage is a reference supplied with the request or used by a run.
type ReferenceImage struct {
	URI string `json:"uri"`
	Tag string `json:"tag"`
}

// Request is one generation request.
type Request struct {
	Prompt              string           `json:"prompt"`
	UserID              string           `json:"user_id"`
	SessionID           string           `json:"session_id,omitempty"`
	QualityPriority     QualityPriority  `json:"quality_priority"`
	UploadedImages      []string         `json:"uploaded_images,omitempty"`
	CurrentWorkingImage string           `json:"current_working_image,omitempty"`
	ReferenceImages     []ReferenceImage `json:"reference_images,omitempty"`
	AdditionalParams    map[string]any   `json:"additional_params,omitempty"`
}

// Result is the outcome of one request. Expected failures are reported here with
// Success false, never as errors.
type Result struct {
	Success         bool             `json:"success"`
	GenerationID    string           `json:"generation_id"`
	OutputURL       string           `json:"output_url,omitempty"`
	ModelUsed       string           `json:"model_used,omitempty"`
	ExecutionTime   float64          `json:"execution_time"`
	ErrorMessage    string           `json:"error_message,omitempty"`
	InputImageUsed  string           `json:"input_image_used,omitempty"`
	ImageSourceType ImageSource      `json:"image_source_type"`
	ReferencesUsed  []ReferenceImage `json:"references_used"`
	Metadata        map[string]any   `json:"metadata"`
}

// Suggester proposes catalog tags close to an unresolved mention.
type Suggester interface {
	SuggestTags(ctx context.Context, userID, query string, k int) ([]string, error)
}

// Mirror copies a provider output into storage the service controls.
type Mirror interface {
	Mirror(ctx context.Context, key, sourceURL string) (string, error)
}

// Orchestrator runs parse, resolve, classify and route for one request.
type Orchestrator struct {
	store      *store.Store
	classifier *intent.Classifier
	router     *Router
	suggester  Suggester
	mirror     Mirror
}

type Option func(*Orchestrator)

func WithSuggester(s Suggester) Option {
	return func(o *Orchestrator) { o.suggester = s }
}

// WithMirror stores successful outputs through m. The provider URL is kept when
// mirroring fails.
func WithMirror(m Mirror) Option {
	return func(o *Orchestrator) { o.mirror = m }
}

func NewOrchestrator(store *store.Store, classifier *intent.Classifier, router *Router, opts ...Option) *Orchestrator {
	o := &Orchestrator{store: store, classifier: classifier, router: router}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Generate handles one request. It returns an error only for contract violations.
func (o *Orchestrator) Generate(ctx context.Context, req *Request) (*Result, error) {
	if req == nil {
		return nil, errors.New("nil generation request")
	}
	if req.UserID == "" {
		return nil, errors.New("user id is required")
	}

	start := time.Now()
	result := &Result{
		GenerationID:    uuid.NewString(),
		ImageSourceType: ImageSourceNone,
		ReferencesUsed:  []ReferenceImage{},
		Metadata:        map[string]any{},
	}
	sessionID := req.SessionID
	if sessionID == "" {
		// A new conversation is keyed by its first generation.
		sessionID = result.GenerationID
	}
	result.Metadata["session_id"] = sessionID

	mentions := mention.Parse(req.Prompt)
	result.Metadata["mentions"] = mentions

	catalog, sessionImage, err := o.load(ctx, req, len(mentions) > 0)
	if err != nil {
		return o.finish(ctx, req, result, start, nil, err), nil
	}

	resolved, unresolved := reference.Resolve(mentions, catalog)
	result.Metadata["resolved_references"] = len(resolved)
	if len(unresolved) > 0 {
		result.Metadata["unresolved_mentions"] = unresolved
		if suggestions := o.suggest(ctx, req.UserID, unresolved); len(suggestions) > 0 {
			result.Metadata["suggestions"] = suggestions
		}
	}
	refs := mergeReferences(mention.Unique(mentions), req.ReferenceImages, resolved)

	workingImage := req.CurrentWorkingImage
	if workingImage == "" {
		workingImage = sessionImage
	}
	in := &intent.Input{
		Prompt:         req.Prompt,
		Mentions:       mentions,
		ActiveImageURL: workingImage,
		UploadedImages: req.UploadedImages,
		References:     refs,
	}
	// An upload only stands in for the active image when nothing is mentioned, so
	// mentions without a working image stay a swap.
	if in.ActiveImageURL == "" && len(mentions) == 0 && len(req.UploadedImages) > 0 {
		in.ActiveImageURL = req.UploadedImages[0]
	}

	decision := o.classifier.Classify(ctx, in)
	if decision.Intent.UsesReferences() {
		backfill(decision, refs, in.ActiveImageURL)
	}
	applyQuality(&decision.Parameters, req.QualityPriority)
	result.Metadata["decision"] = decision
	result.ModelUsed = string(decision.RecommendedModel)

	dispatch, err := o.router.Route(ctx, &RouteRequest{
		Decision:       decision,
		Prompt:         req.Prompt,
		WorkingImage:   workingImage,
		UploadedImages: req.UploadedImages,
		Extra:          req.AdditionalParams,
	})
	if dispatch != nil {
		result.InputImageUsed = dispatch.Plan.InputImage()
		result.ImageSourceType = imageSource(result.InputImageUsed, workingImage, req.UploadedImages)
		result.ReferencesUsed = referencesUsed(dispatch.Plan, refs)
		result.Metadata["provider_version"] = dispatch.Version
		result.OutputURL = dispatch.OutputURL
	}
	if err == nil && o.mirror != nil {
		o.mirrorOutput(ctx, req.UserID, result)
	}
	result = o.finish(ctx, req, result, start, decision, err)

	if result.Success {
		if err := o.store.SetWorkingImage(ctx, sessionID, result.OutputURL, req.UserID); err != nil {
			slog.Warn("failed to update session working image", "session", sessionID, "err", err)
		}
	}
	return result, nil
}

// load fetches the reference catalog and the session working image concurrently.
func (o *Orchestrator) load(ctx context.Context, req *Request, withCatalog bool) ([]*store.Reference, string, error) {
	var (
		catalog      []*store.Reference
		sessionImage string
	)
	g, gctx := errgroup.WithContext(ctx)
	if withCatalog {
		g.Go(func() error {
			refs, err := o.store.ListReferences(gctx, &store.FindReference{UserID: &req.UserID})
			if err != nil {
				return errors.Wrap(err, "failed to load references")
			}
			catalog = refs
			return nil
		})
	}
	if req.SessionID != "" && req.CurrentWorkingImage == "" {
		g.Go(func() error {
			url, err := o.store.GetWorkingImage(gctx, req.SessionID)
			if err != nil {
				return errors.Wrap(err, "failed to load session")
			}
			sessionImage = url
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, "", err
	}
	return catalog, sessionImage, nil
}

// finish stamps timing and outcome, then records the run in the history.
func (o *Orchestrator) finish(ctx context.Context, req *Request, result *Result, start time.Time, decision *intent.Decision, err error) *Result {
	result.ExecutionTime = time.Since(start).Seconds()
	if err != nil {
		result.Success = false
		result.OutputURL = ""
		result.ErrorMessage = err.Error()
		slog.Warn("[GENERATION FAILED]", "generation", result.GenerationID, "err", err)
	} else {
		result.Success = true
		slog.Info("[GENERATION DONE]", "generation", result.GenerationID, "model", result.ModelUsed, "seconds", result.ExecutionTime)
	}

	record := &store.Generation{
		GenerationID:  result.GenerationID,
		UserID:        req.UserID,
		Prompt:        req.Prompt,
		ModelUsed:     result.ModelUsed,
		Success:       result.Success,
		OutputURL:     result.OutputURL,
		ErrorMessage:  result.ErrorMessage,
		ExecutionTime: result.ExecutionTime,
	}
	if decision != nil {
		record.Intent = string(decision.Intent)
	}
	if _, err := o.store.AppendGeneration(ctx, record); err != nil {
		slog.Warn("failed to record generation", "generation", result.GenerationID, "err", err)
	}
	return result
}

func (o *Orchestrator) mirrorOutput(ctx context.Context, userID string, result *Result) {
	key := path.Join("generations", userID, result.GenerationID+path.Ext(urlPath(result.OutputURL)))
	url, err := o.mirror.Mirror(ctx, key, result.OutputURL)
	if err != nil {
		slog.Warn("failed to mirror generation output", "generation", result.GenerationID, "err", err)
		return
	}
	result.Metadata["provider_output_url"] = result.OutputURL
	result.OutputURL = url
}

func urlPath(raw string) string {
	u, err := neturl.Parse(raw)
	if err != nil {
		return ""
	}
	return u.Path
}

func (o *Orchestrator) suggest(ctx context.Context, userID string, unresolved []string) []string {
	if o.suggester == nil {
		return nil
	}
	var out []string
	for _, tag := range unresolved {
		tags, err := o.suggester.SuggestTags(ctx, userID, tag, maxSuggestions)
		if err != nil {
			slog.Debug("tag suggestion failed", "tag", tag, "err", err)
			continue
		}
		for _, t := range tags {
			if len(out) == maxSuggestions {
				return out
			}
			if !slices.Contains(out, t) {
				out = append(out, t)
			}
		}
	}
	return out
}

// mergeReferences orders references by mention. A request-provided reference wins
// over the catalog for the same tag; request references for tags that were not
// mentioned follow in request order. Untagged request references are kept by
// position.
func mergeReferences(mentions []string, provided []ReferenceImage, resolved []*store.Reference) []intent.ReferenceImage {
	byTag := make(map[string]intent.ReferenceImage, len(provided)+len(resolved))
	for _, ref := range resolved {
		byTag[strings.ToLower(ref.Tag)] = intent.ReferenceImage{Tag: ref.Tag, URL: ref.ImageURL, Description: ref.Description}
	}
	keys := make([]string, len(provided))
	for i, ref := range provided {
		if ref.URI == "" {
			continue
		}
		tag := strings.TrimPrefix(ref.Tag, "@")
		key := strings.ToLower(tag)
		if key == "" {
			// Mention tags never contain '#'.
			key = "#" + strconv.Itoa(i)
		}
		keys[i] = key
		byTag[key] = intent.ReferenceImage{Tag: tag, URL: ref.URI}
	}

	out := make([]intent.ReferenceImage, 0, len(byTag))
	seen := make(map[string]bool, len(byTag))
	for _, m := range mentions {
		key := strings.ToLower(m)
		if ref, ok := byTag[key]; ok && !seen[key] {
			seen[key] = true
			out = append(out, ref)
		}
	}
	for i, ref := range provided {
		key := keys[i]
		if ref.URI == "" || seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, byTag[key])
	}
	return out
}

// backfill fills reference slots the decision left empty. Swaps never get an
// active image.
func backfill(d *intent.Decision, refs []intent.ReferenceImage, activeImage string) {
	if d.ReferenceUsage == nil {
		op := intent.OperationPersonSwap
		if d.Intent == intent.Style {
			op = intent.OperationStyleTransfer
		}
		d.ReferenceUsage = &intent.ReferenceUsage{Operation: op}
	}
	u := d.ReferenceUsage
	if u.Primary == "" && len(refs) > 0 {
		u.Primary = refs[0].URL
	}
	if u.Secondary == "" && len(refs) > 1 {
		u.Secondary = refs[1].URL
	}
	if u.ActiveImage == "" && d.Intent != intent.Swap {
		u.ActiveImage = activeImage
	}
}

func applyQuality(p *intent.Parameters, priority QualityPriority) {
	steps := defaultSteps
	if p.Steps != nil {
		steps = *p.Steps
	}
	switch priority {
	case QualitySpeed:
		steps = max(steps/2, minSpeedSteps)
	case QualityQuality:
		steps = qualitySteps
	default:
		return
	}
	p.Steps = &steps
}

func imageSource(used, workingImage string, uploads []string) ImageSource {
	switch {
	case used == "":
		return ImageSourceNone
	case used == workingImage:
		return ImageSourceWorkingImage
	case slices.Contains(uploads, used):
		return ImageSourceUploaded
	default:
		// e.g. an active image chosen by the reasoning model
		return ImageSourceNone
	}
}

// referencesUsed lists the references that filled a slot of the plan.
func referencesUsed(plan Plan, refs []intent.ReferenceImage) []ReferenceImage {
	var slots []string
	switch p := plan.(type) {
	case TransferPlan:
		slots = []string{p.Primary}
	case SwapPlan:
		slots = []string{p.Primary, p.Secondary}
	case StylePlan:
		slots = []string{p.Primary}
	}
	out := []ReferenceImage{}
	for _, ref := range refs {
		if ref.URL != "" && slices.Contains(slots, ref.URL) {
			out = append(out, ReferenceImage{URI: ref.URL, Tag: ref.Tag})
		}
	}
	return out
}
