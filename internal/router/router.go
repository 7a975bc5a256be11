// Package router implements the Router Pipeline (C10): the outer
// switch/inner retry orchestration that ties every other component
// together.
package router

import (
	"context"
	"encoding/json"
	"math/rand"
	"time"

	"go.uber.org/zap"

	"github.com/openlane-dev/freegate/internal/breaker"
	"github.com/openlane-dev/freegate/internal/catalog"
	"github.com/openlane-dev/freegate/internal/health"
	"github.com/openlane-dev/freegate/internal/metrics"
	"github.com/openlane-dev/freegate/internal/provider"
	"github.com/openlane-dev/freegate/internal/ratelimit"
	"github.com/openlane-dev/freegate/internal/routeerr"
	"github.com/openlane-dev/freegate/internal/selector"
	"github.com/openlane-dev/freegate/internal/shutdown"
)

// Default routing budgets.
const (
	DefaultMaxModelSwitches    = 3
	DefaultMaxSameModelRetries = 2
	DefaultRetryDelay          = 3000 * time.Millisecond
	DefaultTimeout             = 60 * time.Second
)

// FallbackConfig describes the paid model of last resort.
type FallbackConfig struct {
	Enabled  bool
	Provider string
	Model    string
}

// Options resolves per-request routing knobs layered over config defaults.
// MaxModelSwitches and MaxSameModelRetries are pointers so that an explicit
// 0 (no switches / no retries) survives withDefaults rather than being
// silently promoted to the package default — nil means "unset, use the
// default"; a non-nil 0 means the caller meant exactly that.
type Options struct {
	MaxModelSwitches    *int
	MaxSameModelRetries *int
	RetryDelay          time.Duration
	Timeout             time.Duration
	Fallback            FallbackConfig
}

// resolvedOptions is Options with every knob resolved to a concrete value,
// ready for the switch/retry loops to consume.
type resolvedOptions struct {
	MaxModelSwitches    int
	MaxSameModelRetries int
	RetryDelay          time.Duration
	Timeout             time.Duration
	Fallback            FallbackConfig
}

func (o Options) withDefaults() resolvedOptions {
	r := resolvedOptions{
		MaxModelSwitches:    intOrDefault(o.MaxModelSwitches, DefaultMaxModelSwitches),
		MaxSameModelRetries: intOrDefault(o.MaxSameModelRetries, DefaultMaxSameModelRetries),
		RetryDelay:          o.RetryDelay,
		Timeout:             o.Timeout,
		Fallback:            o.Fallback,
	}
	if r.RetryDelay == 0 {
		r.RetryDelay = DefaultRetryDelay
	}
	if r.Timeout == 0 {
		r.Timeout = DefaultTimeout
	}
	return r
}

func intOrDefault(p *int, def int) int {
	if p == nil {
		return def
	}
	return *p
}

// Request bundles one chat-completion request as the Router sees it.
type Request struct {
	Messages      []provider.Message
	Criteria      selector.Criteria
	Options       Options
	Stream        bool
	RequestsJSON  bool
	RawModelKnobs provider.Params // temperature/max_tokens/etc; UpstreamModel/Timeout overwritten per attempt
}

// AttemptMeta is the `_router` metadata block attached to responses.
type AttemptMeta struct {
	Provider     string                  `json:"provider"`
	ModelName    string                  `json:"model_name"`
	Attempts     int                     `json:"attempts"`
	FallbackUsed bool                    `json:"fallback_used"`
	Errors       []routeerr.AttemptError `json:"errors,omitempty"`
	Data         any                     `json:"data,omitempty"`
}

// Result is a buffered routing outcome.
type Result struct {
	Completion *provider.Result
	Meta       AttemptMeta
}

// Router ties Selector, Rate Limiter, Provider registry, Health, Circuit
// Breaker, and the Shutdown Coordinator into the request routing pipeline.
type Router struct {
	registry    *catalog.Registry
	selector    *selector.Selector
	breaker     *breaker.Breaker
	health      *health.Tracker
	rateLimiter *ratelimit.Limiter
	shutdown    *shutdown.Coordinator
	providers   map[string]provider.Adapter
	logger      *zap.Logger
	rng         *rand.Rand
	metrics     *metrics.Collector
}

// SetMetrics attaches a Prometheus collector. Optional: a Router with no
// collector simply skips every observation call.
func (r *Router) SetMetrics(c *metrics.Collector) {
	r.metrics = c
}

// New builds a Router. providers maps provider name → Adapter.
func New(
	registry *catalog.Registry,
	sel *selector.Selector,
	br *breaker.Breaker,
	h *health.Tracker,
	rl *ratelimit.Limiter,
	sc *shutdown.Coordinator,
	providers map[string]provider.Adapter,
	logger *zap.Logger,
) *Router {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Router{
		registry:    registry,
		selector:    sel,
		breaker:     br,
		health:      h,
		rateLimiter: rl,
		shutdown:    sc,
		providers:   providers,
		logger:      logger.With(zap.String("component", "router")),
		rng:         rand.New(rand.NewSource(rand.Int63())),
	}
}

// cancelCause names who fired a Cancelled error.
type cancelCause string

const (
	causeClient   cancelCause = "client"
	causeShutdown cancelCause = "shutdown"
)

// ChatCompletion runs the buffered pipeline: register → resolve knobs →
// outer switch loop → inner retry loop → fallback → unregister.
func (r *Router) ChatCompletion(ctx context.Context, req Request) (*Result, error) {
	if err := r.shutdown.RegisterRequest(); err != nil {
		return nil, routeerr.New(routeerr.KindOther, "", "", err.Error())
	}
	defer r.shutdown.UnregisterRequest()

	combined, cancel := shutdown.CombinedContext(r.shutdown.CreateRequestSignal(), ctx)
	defer cancel()

	opts := req.Options.withDefaults()
	excluded := map[string]bool{}
	var attemptErrors []routeerr.AttemptError

	hasImage := false
	for _, m := range req.Messages {
		if m.HasImage() {
			hasImage = true
			break
		}
	}

	for switches := 0; switches <= opts.MaxModelSwitches; switches++ {
		model, err := r.selector.SelectNext(combined, req.Criteria, excluded)
		if err != nil {
			return nil, routeerr.Wrap(routeerr.KindOther, "", "", 0, err)
		}
		if model == nil {
			break
		}

		if hasImage && !model.SupportsImage {
			return nil, routeerr.New(routeerr.KindClientError, model.Provider, model.Name,
				"selected model does not support image content")
		}

		result, recordedErr, switchOut := r.tryModel(combined, *model, req, opts, &attemptErrors)
		if result != nil {
			if r.metrics != nil {
				r.metrics.ObserveRequest("success", len(attemptErrors)+1)
			}
			return &Result{
				Completion: result,
				Meta: AttemptMeta{
					Provider:  model.Provider,
					ModelName: model.Name,
					Attempts:  len(attemptErrors) + 1,
					Errors:    attemptErrors,
					Data:      bestEffortJSON(req.RequestsJSON, result),
				},
			}, nil
		}
		if recordedErr != nil {
			return nil, recordedErr // ClientError or Cancelled: rethrow/surface immediately
		}
		if switchOut {
			if r.metrics != nil {
				r.metrics.ObserveSwitch(model.Name, "attempt_failed")
			}
			excluded[model.Key()] = true
		}
	}

	if opts.Fallback.Enabled {
		result, err := r.tryFallback(combined, req, opts, &attemptErrors)
		if err != nil {
			if r.metrics != nil {
				r.metrics.ObserveRequest("all_failed", len(attemptErrors))
			}
			return nil, err
		}
		if r.metrics != nil {
			r.metrics.ObserveFallback()
			r.metrics.ObserveRequest("fallback", len(attemptErrors)+1)
		}
		return &Result{
			Completion: result,
			Meta: AttemptMeta{
				Provider:     opts.Fallback.Provider,
				ModelName:    opts.Fallback.Model,
				Attempts:     len(attemptErrors) + 1,
				FallbackUsed: true,
				Errors:       attemptErrors,
				Data:         bestEffortJSON(req.RequestsJSON, result),
			},
		}, nil
	}

	if r.metrics != nil {
		r.metrics.ObserveRequest("all_failed", len(attemptErrors))
	}
	return nil, routeerr.New(routeerr.KindOther, "", "", "all models failed").WithErrors(attemptErrors)
}

// tryModel runs the inner retry loop for one selected model. It returns
// (result, nil, _) on success; (nil, err, _) when err must propagate
// immediately (ClientError/Cancelled); or (nil, nil, true) when the outer
// loop should switch models, having already appended to attemptErrors.
func (r *Router) tryModel(ctx context.Context, model catalog.ModelDefinition, req Request, opts resolvedOptions, attemptErrors *[]routeerr.AttemptError) (*provider.Result, error, bool) {
	adapter, ok := r.providers[model.Provider]
	if !ok {
		*attemptErrors = append(*attemptErrors, routeerr.ToAttempt(routeerr.New(routeerr.KindOther, model.Provider, model.Name, "no adapter registered for provider")))
		return nil, nil, true
	}

	for attempt := 0; attempt <= opts.MaxSameModelRetries; attempt++ {
		if ctx.Err() != nil {
			return nil, r.cancellation(ctx), false
		}

		if !r.rateLimiter.CheckModel(model.Name, model.RequestsPerMinute) {
			// Local admission rejection consumes a switch rather than a
			// same-model retry: no adapter call was made, so nothing is
			// recorded to Health or the Circuit Breaker, but the outer
			// loop moves on rather than spinning on a closed bucket.
			if r.metrics != nil {
				r.metrics.ObserveRateLimitDenied(model.Name)
			}
			return nil, nil, true
		}

		params := req.RawModelKnobs
		params.UpstreamModel = model.Model
		params.Messages = req.Messages
		params.Timeout = opts.Timeout

		start := time.Now()
		result, err := adapter.ChatCompletion(ctx, params)
		latency := time.Since(start)

		if err == nil {
			_, _ = r.health.RecordSuccess(ctx, model.Name, latency)
			_ = r.breaker.OnSuccess(ctx, model.Name)
			if r.metrics != nil {
				r.metrics.ObserveAttempt(model.Provider, model.Name, "success", latency.Seconds())
			}
			return result, nil, false
		}

		classified, _ := routeerr.As(err)
		if classified == nil {
			classified = routeerr.Wrap(routeerr.KindOther, model.Provider, model.Name, 0, err)
		}
		attemptErr := routeerr.ToAttempt(classified)
		attemptErr.Provider = model.Provider
		attemptErr.Model = model.Name

		switch classified.Kind {
		case routeerr.KindClientError:
			return nil, classified, false

		case routeerr.KindCancelled:
			return nil, r.cancellation(ctx), false

		case routeerr.KindNotFound:
			_, _ = r.health.RecordFailure(ctx, model.Name, latency)
			_ = r.breaker.OnFailure(ctx, model.Name, routeerr.KindNotFound)
			r.observeFailure(model, latency, "not_found")
			*attemptErrors = append(*attemptErrors, attemptErr)
			return nil, nil, true

		case routeerr.KindRateLimit, routeerr.KindRetryableNetwork:
			_, _ = r.health.RecordFailure(ctx, model.Name, latency)
			r.observeFailure(model, latency, string(classified.Kind))
			if attempt < opts.MaxSameModelRetries {
				if err := sleepWithJitter(ctx, opts.RetryDelay); err != nil {
					return nil, r.cancellation(ctx), false
				}
				continue
			}
			*attemptErrors = append(*attemptErrors, attemptErr)
			return nil, nil, true

		default: // ProviderNetwork, Other
			_, _ = r.health.RecordFailure(ctx, model.Name, latency)
			_ = r.breaker.OnFailure(ctx, model.Name, classified.Kind)
			r.observeFailure(model, latency, string(classified.Kind))
			*attemptErrors = append(*attemptErrors, attemptErr)
			return nil, nil, true
		}
	}

	return nil, nil, true
}

func (r *Router) observeFailure(model catalog.ModelDefinition, latency time.Duration, outcome string) {
	if r.metrics == nil {
		return
	}
	r.metrics.ObserveAttempt(model.Provider, model.Name, outcome, latency.Seconds())
}

func (r *Router) tryFallback(ctx context.Context, req Request, opts resolvedOptions, attemptErrors *[]routeerr.AttemptError) (*provider.Result, error) {
	adapter, ok := r.providers[opts.Fallback.Provider]
	if !ok {
		err := routeerr.New(routeerr.KindOther, opts.Fallback.Provider, opts.Fallback.Model, "fallback provider has no adapter")
		*attemptErrors = append(*attemptErrors, routeerr.ToAttempt(err))
		return nil, err.WithErrors(*attemptErrors)
	}

	params := req.RawModelKnobs
	params.UpstreamModel = opts.Fallback.Model
	params.Messages = req.Messages
	params.Timeout = opts.Timeout

	result, err := adapter.ChatCompletion(ctx, params)
	if err != nil {
		classified, _ := routeerr.As(err)
		if classified == nil {
			classified = routeerr.Wrap(routeerr.KindOther, opts.Fallback.Provider, opts.Fallback.Model, 0, err)
		}
		*attemptErrors = append(*attemptErrors, routeerr.ToAttempt(classified))
		return nil, classified.WithErrors(*attemptErrors)
	}
	return result, nil
}

// cancellation distinguishes a shutdown-originated cancel from a
// client-originated one.
func (r *Router) cancellation(ctx context.Context) error {
	cause := causeClient
	if r.shutdown.IsShuttingDown() {
		cause = causeShutdown
	}
	return routeerr.New(routeerr.KindCancelled, "", "", "request cancelled by "+string(cause)).WithCause(ctx.Err())
}

func sleepWithJitter(ctx context.Context, base time.Duration) error {
	jitter := time.Duration(rand.Int63n(int64(base) / 4 + 1))
	timer := time.NewTimer(base + jitter)
	defer timer.Stop()

	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func bestEffortJSON(requested bool, result *provider.Result) any {
	if !requested || result == nil || result.Content == nil {
		return nil
	}
	var parsed any
	if err := json.Unmarshal([]byte(*result.Content), &parsed); err != nil {
		return nil
	}
	return parsed
}
