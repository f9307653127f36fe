package generate

import (
	"context"
	"errors"
	"math"
	"math/rand"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"portfolio-pipeline/internal/cache"
	"portfolio-pipeline/internal/models"
	"portfolio-pipeline/internal/quality"
	"portfolio-pipeline/internal/ratelimit"
	"portfolio-pipeline/internal/telemetry"
)

// Provider is the external generative model collaborator.
type Provider interface {
	Generate(ctx context.Context, prompt string) (string, error)
}

// Options tune the generation core.
type Options struct {
	MaxRetries  int           // attempts per fragment, quality rejections included
	Timeout     time.Duration // per provider call
	BackoffBase time.Duration
	BackoffMax  time.Duration
	Concurrent  bool // run hero/bio/projects sub-generations concurrently
}

func (o *Options) applyDefaults() {
	if o.MaxRetries <= 0 {
		o.MaxRetries = 3
	}
	if o.Timeout <= 0 {
		o.Timeout = 30 * time.Second
	}
	if o.BackoffBase <= 0 {
		o.BackoffBase = time.Second
	}
	if o.BackoffMax <= 0 {
		o.BackoffMax = 30 * time.Second
	}
}

// Core composes prompts from a content schema, calls the model through the
// shared rate limiter, consults the response cache, retries transient
// failures with backoff, and resubmits on quality-gate rejection up to the
// attempt budget. The limiter and cache are injected so all in-flight jobs
// share one budget and the core stays testable with doubles.
type Core struct {
	provider Provider
	limiter  *ratelimit.SlidingWindow
	cache    cache.Cache
	gate     *quality.Gate
	opts     Options
	log      zerolog.Logger
}

func New(provider Provider, limiter *ratelimit.SlidingWindow, c cache.Cache, gate *quality.Gate, opts Options, log zerolog.Logger) *Core {
	opts.applyDefaults()
	return &Core{
		provider: provider,
		limiter:  limiter,
		cache:    c,
		gate:     gate,
		opts:     opts,
		log:      log.With().Str("component", "generation").Logger(),
	}
}

// Generate produces the hero, bio, and project fragments for a schema.
// Hero failure is hard and cancels outstanding sibling work; bio and
// project failures degrade to the best attempt or the original text.
func (c *Core) Generate(ctx context.Context, schema models.ContentSchema) (*models.Portfolio, error) {
	var (
		hero     models.Hero
		bio      string
		projects []models.Project
	)

	if c.opts.Concurrent {
		g, gctx := errgroup.WithContext(ctx)
		g.Go(func() error {
			var err error
			hero, err = c.generateHero(gctx, schema)
			return err
		})
		g.Go(func() error {
			var err error
			bio, err = c.generateBio(gctx, schema)
			return err
		})
		g.Go(func() error {
			projects = c.generateProjects(gctx, schema)
			return nil
		})
		if err := g.Wait(); err != nil {
			return nil, err
		}
	} else {
		var err error
		if hero, err = c.generateHero(ctx, schema); err != nil {
			return nil, err
		}
		if bio, err = c.generateBio(ctx, schema); err != nil {
			return nil, err
		}
		projects = c.generateProjects(ctx, schema)
	}

	return &models.Portfolio{
		Hero:     hero,
		Bio:      bio,
		Projects: projects,
		Skills:   schema.Skills,
	}, nil
}

// generateHero produces the tagline. Quality rejection after the full
// budget is a hard stop: a bad tagline is not acceptable.
func (c *Core) generateHero(ctx context.Context, schema models.ContentSchema) (models.Hero, error) {
	fp := Fingerprint(models.KindHero, schema)
	if res, ok := c.cacheGet(ctx, fp); ok {
		return models.Hero{Name: schema.Name, Tagline: res.Text, Title: schema.Role}, nil
	}

	res, rejected, err := c.generateFragment(ctx, models.KindHero, heroPrompt(schema), cleanTagline, func(text string) models.FragmentReport {
		return c.gate.EvaluateHero(text, schema)
	})
	if err != nil {
		return models.Hero{}, err
	}
	if rejected {
		telemetry.ValidationFailures.Inc()
		return models.Hero{}, &models.PipelineError{
			Kind:    models.ErrValidation,
			Stage:   models.StageGeneration,
			Message: "hero tagline rejected by quality gate after all attempts",
			Details: map[string]any{"attempts": c.opts.MaxRetries, "best_score": res.Score},
		}
	}

	c.cacheSet(ctx, fp, res)
	return models.Hero{Name: schema.Name, Tagline: res.Text, Title: schema.Role}, nil
}

// generateBio produces the biography. Quality rejection is soft: the best
// attempt is accepted and logged, never cached.
func (c *Core) generateBio(ctx context.Context, schema models.ContentSchema) (string, error) {
	fp := Fingerprint(models.KindBio, schema)
	if res, ok := c.cacheGet(ctx, fp); ok {
		return res.Text, nil
	}

	res, rejected, err := c.generateFragment(ctx, models.KindBio, bioPrompt(schema), cleanText, func(text string) models.FragmentReport {
		return c.gate.EvaluateBio(text)
	})
	if err != nil {
		return "", err
	}
	if rejected {
		telemetry.ValidationFailures.Inc()
		c.log.Warn().
			Float64("best_score", res.Score).
			Int("attempts", c.opts.MaxRetries).
			Msg("bio rejected by quality gate, accepting best attempt")
		return res.Text, nil
	}

	c.cacheSet(ctx, fp, res)
	return res.Text, nil
}

// generateProjects enhances each project description independently. A
// project whose enhancement fails, for any reason, falls back to the
// original unenhanced description rather than failing the job.
func (c *Core) generateProjects(ctx context.Context, schema models.ContentSchema) []models.Project {
	projects := make([]models.Project, 0, len(schema.Projects))
	for _, input := range schema.Projects {
		projects = append(projects, c.enhanceProject(ctx, schema, input))
	}
	return projects
}

func (c *Core) enhanceProject(ctx context.Context, schema models.ContentSchema, input models.ProjectInput) models.Project {
	fallback := models.Project{
		Title:        input.Title,
		Description:  input.Description,
		Technologies: input.Technologies,
		Enhanced:     false,
	}

	fp := ProjectFingerprint(schema, input)
	if res, ok := c.cacheGet(ctx, fp); ok {
		fallback.Description = res.Text
		fallback.Enhanced = true
		return fallback
	}

	res, rejected, err := c.generateFragment(ctx, models.KindProject, projectPrompt(schema, input), cleanText, func(text string) models.FragmentReport {
		return c.gate.EvaluateProject(models.Project{Title: input.Title, Description: text, Technologies: input.Technologies})
	})
	if err != nil {
		c.log.Warn().Err(err).Str("project", input.Title).Msg("project enhancement failed, keeping original description")
		return fallback
	}
	if rejected {
		telemetry.ValidationFailures.Inc()
		c.log.Warn().Str("project", input.Title).Msg("enhanced description rejected by quality gate, keeping original")
		return fallback
	}

	c.cacheSet(ctx, fp, res)
	fallback.Description = res.Text
	fallback.Enhanced = true
	return fallback
}

// callResult is the tagged outcome of one provider call: ok (text set),
// retryable, or fatal, with the failure kind attached.
type callResult struct {
	text string
	kind models.ErrorKind
	err  error
}

func (r callResult) ok() bool        { return r.err == nil }
func (r callResult) retryable() bool { return r.kind.Transient() }

// callProvider acquires a rate-limiter slot and invokes the model under the
// per-call timeout.
func (c *Core) callProvider(ctx context.Context, prompt string) callResult {
	waitStart := time.Now()
	if err := c.limiter.Acquire(ctx); err != nil {
		return callResult{kind: classifyProviderErr(err), err: err}
	}
	if time.Since(waitStart) > 50*time.Millisecond {
		telemetry.RateLimitWaits.Inc()
	}

	cctx, cancel := context.WithTimeout(ctx, c.opts.Timeout)
	defer cancel()

	text, err := c.provider.Generate(cctx, prompt)
	if err != nil {
		return callResult{kind: classifyProviderErr(err), err: err}
	}
	return callResult{text: text}
}

func classifyProviderErr(err error) models.ErrorKind {
	switch {
	case errors.Is(err, context.Canceled):
		return models.ErrCancelled
	case errors.Is(err, context.DeadlineExceeded):
		return models.ErrTimeout
	case errors.Is(err, models.ErrModelRateLimited):
		return models.ErrRateLimited
	default:
		return models.ErrProvider
	}
}

// generateFragment runs the call/clean/gate loop for one fragment with the
// shared retry budget. It returns the accepted result; or, with rejected
// set, the best-scoring attempt after the budget was spent on gate
// rejections; or an error once transient failures exhaust the budget.
func (c *Core) generateFragment(
	ctx context.Context,
	kind models.FragmentKind,
	prompt string,
	clean func(string) string,
	evaluate func(string) models.FragmentReport,
) (models.GenerationResult, bool, error) {
	var best models.GenerationResult
	var lastErr error

	for attempt := 1; attempt <= c.opts.MaxRetries; attempt++ {
		res := c.callProvider(ctx, prompt)
		if !res.ok() {
			lastErr = res.err
			// The job's own deadline or cancellation is never retried;
			// abandoning here releases any limiter slot the call held.
			if ctx.Err() != nil {
				return models.GenerationResult{}, false, models.NewPipelineError(classifyProviderErr(ctx.Err()), models.StageGeneration, "", ctx.Err())
			}
			if !res.retryable() || attempt == c.opts.MaxRetries {
				// An earlier attempt that only the gate rejected is still
				// usable; the per-kind rejection policy decides its fate.
				if best.Text != "" {
					return best, true, nil
				}
				return models.GenerationResult{}, false, models.NewPipelineError(res.kind, models.StageGeneration, "", res.err)
			}
			telemetry.GenerationRetries.Inc()
			if err := c.backoff(ctx, attempt); err != nil {
				return models.GenerationResult{}, false, models.NewPipelineError(classifyProviderErr(err), models.StageGeneration, "", err)
			}
			continue
		}

		text := clean(res.text)
		report := evaluate(text)
		result := models.GenerationResult{Kind: kind, Text: text, Score: report.Score}
		if report.Passed {
			telemetry.Generations.Inc()
			return result, false, nil
		}

		if result.Score >= best.Score {
			best = result
		}
		c.log.Debug().
			Str("kind", string(kind)).
			Int("attempt", attempt).
			Float64("score", report.Score).
			Strs("issues", report.Issues).
			Msg("fragment rejected by quality gate")

		if attempt < c.opts.MaxRetries {
			telemetry.GenerationRetries.Inc()
			if err := c.backoff(ctx, attempt); err != nil {
				return models.GenerationResult{}, false, models.NewPipelineError(classifyProviderErr(err), models.StageGeneration, "", err)
			}
		}
	}

	if best.Text == "" && lastErr != nil {
		return models.GenerationResult{}, false, models.NewPipelineError(models.ErrProvider, models.StageGeneration, "", lastErr)
	}
	return best, true, nil
}

// backoff sleeps an exponentially growing, jittered interval, honoring ctx.
func (c *Core) backoff(ctx context.Context, attempt int) error {
	wait := backoffWithJitter(c.opts.BackoffBase, c.opts.BackoffMax, attempt)
	timer := time.NewTimer(wait)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func backoffWithJitter(base, max time.Duration, attempt int) time.Duration {
	if attempt <= 0 {
		return base
	}
	exp := float64(base) * math.Pow(2, float64(attempt-1))
	wait := time.Duration(exp)
	if wait > max {
		wait = max
	}
	jitter := time.Duration(rand.Int63n(int64(wait/2) + 1))
	return wait/2 + jitter
}

func (c *Core) cacheGet(ctx context.Context, fingerprint string) (models.GenerationResult, bool) {
	if c.cache == nil {
		return models.GenerationResult{}, false
	}
	res, ok, err := c.cache.Get(ctx, fingerprint)
	if err != nil {
		c.log.Warn().Err(err).Msg("response cache read failed")
		return models.GenerationResult{}, false
	}
	if ok {
		telemetry.CacheHits.Inc()
	}
	return res, ok
}

func (c *Core) cacheSet(ctx context.Context, fingerprint string, result models.GenerationResult) {
	if c.cache == nil {
		return
	}
	if err := c.cache.Set(ctx, fingerprint, result); err != nil {
		c.log.Warn().Err(err).Msg("response cache write failed")
	}
}
