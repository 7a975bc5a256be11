package router

import (
	"context"
	"time"

	"github.com/openlane-dev/freegate/internal/catalog"
	"github.com/openlane-dev/freegate/internal/provider"
	"github.com/openlane-dev/freegate/internal/routeerr"
	"github.com/openlane-dev/freegate/internal/shutdown"
)

// StreamEvent is one item yielded by a StreamSession: either a provider
// Chunk (optionally carrying the first-chunk routing Meta) or a terminal
// error closing the stream.
type StreamEvent struct {
	Chunk provider.Chunk
	Meta  *AttemptMeta // set only on the very first event
	Err   error        // set only on the terminal event; Chunk is the zero value
}

// StreamSession drains a single routed stream. Callers must call Next
// repeatedly until it reports done, then Close exactly once.
type StreamSession struct {
	router   *Router
	inner    provider.ChunkStream
	model    catalog.ModelDefinition
	meta     AttemptMeta
	cancel   context.CancelFunc
	sentMeta bool
	anyDelta bool
	done     bool
}

// ChatCompletionStream opens a routed stream: failures before any delta
// reuse the retry/switch/fallback flow; once a delta has reached the
// caller, failures are terminal.
func (r *Router) ChatCompletionStream(ctx context.Context, req Request) (*StreamSession, error) {
	if err := r.shutdown.RegisterRequest(); err != nil {
		return nil, routeerr.New(routeerr.KindOther, "", "", err.Error())
	}

	combined, cancel := shutdown.CombinedContext(r.shutdown.CreateRequestSignal(), ctx)

	abort := func(err error) (*StreamSession, error) {
		cancel()
		r.shutdown.UnregisterRequest()
		return nil, err
	}

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
			return abort(routeerr.Wrap(routeerr.KindOther, "", "", 0, err))
		}
		if model == nil {
			break
		}
		if hasImage && !model.SupportsImage {
			return abort(routeerr.New(routeerr.KindClientError, model.Provider, model.Name,
				"selected model does not support image content"))
		}

		session, recordedErr, switchOut := r.tryOpenStream(combined, *model, req, opts, &attemptErrors)
		if session != nil {
			session.cancel = cancel
			session.meta = AttemptMeta{
				Provider:  model.Provider,
				ModelName: model.Name,
				Attempts:  len(attemptErrors) + 1,
				Errors:    attemptErrors,
			}
			return session, nil
		}
		if recordedErr != nil {
			return abort(recordedErr)
		}
		if switchOut {
			excluded[model.Key()] = true
		}
	}

	if opts.Fallback.Enabled {
		fbModel := catalog.ModelDefinition{Provider: opts.Fallback.Provider, Name: opts.Fallback.Model, Model: opts.Fallback.Model}
		session, recordedErr, _ := r.tryOpenStream(combined, fbModel, req, opts, &attemptErrors)
		if session != nil {
			session.cancel = cancel
			session.meta = AttemptMeta{
				Provider:     fbModel.Provider,
				ModelName:    fbModel.Name,
				Attempts:     len(attemptErrors) + 1,
				FallbackUsed: true,
				Errors:       attemptErrors,
			}
			return session, nil
		}
		if recordedErr != nil {
			return abort(recordedErr)
		}
		return abort(routeerr.New(routeerr.KindOther, "", "", "all models failed").WithErrors(attemptErrors))
	}

	return abort(routeerr.New(routeerr.KindOther, "", "", "all models failed").WithErrors(attemptErrors))
}

// tryOpenStream opens a stream for one model, retrying within the
// same-model budget for failures that occur before any delta is produced —
// mirroring tryModel's classification branching.
func (r *Router) tryOpenStream(ctx context.Context, model catalog.ModelDefinition, req Request, opts resolvedOptions, attemptErrors *[]routeerr.AttemptError) (*StreamSession, error, bool) {
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
			return nil, nil, true
		}

		params := req.RawModelKnobs
		params.UpstreamModel = model.Model
		params.Messages = req.Messages
		params.Timeout = opts.Timeout

		stream, err := adapter.ChatCompletionStream(ctx, params)
		if err == nil {
			return &StreamSession{router: r, inner: stream, model: model}, nil, false
		}

		classified, _ := routeerr.As(err)
		if classified == nil {
			classified = routeerr.Wrap(routeerr.KindOther, model.Provider, model.Name, 0, err)
		}

		switch classified.Kind {
		case routeerr.KindClientError:
			return nil, classified, false
		case routeerr.KindCancelled:
			return nil, r.cancellation(ctx), false
		case routeerr.KindNotFound:
			_ = r.breaker.OnFailure(ctx, model.Name, routeerr.KindNotFound)
			*attemptErrors = append(*attemptErrors, routeerr.ToAttempt(classified))
			return nil, nil, true
		case routeerr.KindRateLimit, routeerr.KindRetryableNetwork:
			if attempt < opts.MaxSameModelRetries {
				if err := sleepWithJitter(ctx, opts.RetryDelay); err != nil {
					return nil, r.cancellation(ctx), false
				}
				continue
			}
			*attemptErrors = append(*attemptErrors, routeerr.ToAttempt(classified))
			return nil, nil, true
		default:
			_ = r.breaker.OnFailure(ctx, model.Name, classified.Kind)
			*attemptErrors = append(*attemptErrors, routeerr.ToAttempt(classified))
			return nil, nil, true
		}
	}

	return nil, nil, true
}

// Next yields the next StreamEvent. The first call carries Meta populated;
// a terminal error after deltas have been sent is synthesized as a final
// event rather than retried or switched.
func (s *StreamSession) Next(ctx context.Context) (StreamEvent, bool) {
	if s.done {
		return StreamEvent{}, false
	}

	start := time.Now()
	chunk, more, err := s.inner.Next(ctx)

	if err != nil {
		s.done = true
		if s.anyDelta {
			_, _ = s.router.health.RecordFailure(ctx, s.model.Name, time.Since(start))
		}
		ev := StreamEvent{Err: err}
		if !s.sentMeta {
			meta := s.meta
			ev.Meta = &meta
			s.sentMeta = true
		}
		return ev, true
	}

	if !more {
		s.done = true
		_, _ = s.router.health.RecordSuccess(ctx, s.model.Name, time.Since(start))
		_ = s.router.breaker.OnSuccess(ctx, s.model.Name)
		return StreamEvent{}, false
	}

	s.anyDelta = true
	ev := StreamEvent{Chunk: chunk}
	if !s.sentMeta {
		meta := s.meta
		ev.Meta = &meta
		s.sentMeta = true
	}
	return ev, true
}

// Close releases the underlying provider stream, the combined-cancel
// context, and the shutdown coordinator's in-flight slot.
func (s *StreamSession) Close() error {
	defer s.router.shutdown.UnregisterRequest()
	if s.cancel != nil {
		defer s.cancel()
	}
	if s.inner == nil {
		return nil
	}
	return s.inner.Close()
}
