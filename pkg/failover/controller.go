package failover

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/rasyid/kantor/internal/observability"
	"github.com/rasyid/kantor/internal/tracing"
	"github.com/rasyid/kantor/pkg/model"
)

// ClientResolver turns a model name into a provider client and the model id
// to send on the wire.
type ClientResolver interface {
	Resolve(name string) (model.Client, string, error)
}

// Config holds failover controller configuration
type Config struct {
	BaseCooldown time.Duration
	MaxCooldown  time.Duration
	Resolver     ClientResolver
	Logger       zerolog.Logger
}

// candidateState tracks consecutive failures and the active cooldown for one
// model name.
type candidateState struct {
	failures      int
	cooldownUntil time.Time
}

// Controller rotates model invocations across a candidate chain, skipping
// models that recently failed
type Controller struct {
	cfg      Config
	resolver ClientResolver
	logger   zerolog.Logger

	mu    sync.Mutex
	state map[string]*candidateState

	nowFn func() time.Time
}

// New creates a failover controller
func New(cfg Config) (*Controller, error) {
	if cfg.Resolver == nil {
		return nil, fmt.Errorf("client resolver is required")
	}
	if cfg.BaseCooldown <= 0 {
		cfg.BaseCooldown = 60 * time.Second
	}
	if cfg.MaxCooldown < cfg.BaseCooldown {
		cfg.MaxCooldown = 3600 * time.Second
	}

	return &Controller{
		cfg:      cfg,
		resolver: cfg.Resolver,
		logger:   cfg.Logger,
		state:    make(map[string]*candidateState),
		nowFn:    time.Now,
	}, nil
}

// Invoke walks [primary, fallbacks...] skipping models in cooldown and
// returns the first successful response together with the model name that
// produced it and human-readable notes about every skip, shape switch and
// failover along the way. When every candidate is cooling down the primary
// is force-retried once rather than failing outright.
func (c *Controller) Invoke(ctx context.Context, req model.Request, primary string, fallbacks []string) (*model.Response, string, []string, error) {
	ctx, span := tracing.StartSpan(
		ctx,
		"kantor.failover",
		"failover.invoke",
		attribute.String("model.primary", primary),
		attribute.Int("model.fallbacks", len(fallbacks)),
	)
	defer span.End()

	logger := tracing.LoggerFromContext(ctx, c.logger).With().Str("primary", primary).Logger()

	candidates := dedupe(append([]string{primary}, fallbacks...))

	var notes []string
	var lastErr error
	attempted := false

	for _, name := range candidates {
		if err := ctx.Err(); err != nil {
			return nil, "", notes, err
		}

		if remaining := c.CooldownRemaining(name); remaining > 0 {
			observability.SetModelCooldown(name, true)
			notes = append(notes, fmt.Sprintf("skipped %s: cooling down for %s", name, remaining.Round(time.Second)))
			logger.Debug().Str("model", name).Dur("remaining", remaining).Msg("Skipping model in cooldown")
			continue
		}
		observability.SetModelCooldown(name, false)

		client, modelID, err := c.resolver.Resolve(name)
		if err != nil {
			notes = append(notes, fmt.Sprintf("model %s unavailable: %v", name, err))
			logger.Warn().Str("model", name).Err(err).Msg("Failed to resolve model")
			lastErr = fmt.Errorf("resolve model %s: %w", name, err)
			continue
		}
		attempted = true

		resp, err := c.attempt(ctx, client, modelID, req, name, &notes, logger)
		if err == nil {
			span.SetAttributes(attribute.String("model.effective", name))
			return resp, name, notes, nil
		}
		lastErr = err

		class := classifyError(err)
		if class == "" {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return nil, "", notes, err
		}
		notes = append(notes, fmt.Sprintf("model %s failed (%s), advancing to next candidate", name, class))
		observability.RecordFailover(name)
		logger.Warn().Str("model", name).Str("class", class).Err(err).Msg("Model failed, advancing to next candidate")
	}

	if !attempted {
		// Availability beats strict backoff when the whole chain is cooling.
		notes = append(notes, fmt.Sprintf("all candidates cooling down, force-retrying %s", primary))
		logger.Warn().Msg("All candidates cooling down, force-retrying primary")

		client, modelID, err := c.resolver.Resolve(primary)
		if err != nil {
			lastErr = fmt.Errorf("resolve model %s: %w", primary, err)
		} else {
			resp, err := c.attempt(ctx, client, modelID, req, primary, &notes, logger)
			if err == nil {
				span.SetAttributes(attribute.String("model.effective", primary))
				return resp, primary, notes, nil
			}
			lastErr = err
		}
	}

	err := fmt.Errorf("all model candidates failed: %w", lastErr)
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	return nil, "", notes, err
}

// attempt calls one model, retrying once with the alternate request shape
// on a protocol-shape error before counting the failure.
func (c *Controller) attempt(ctx context.Context, client model.Client, modelID string, req model.Request, name string, notes *[]string, logger zerolog.Logger) (*model.Response, error) {
	attemptReq := req
	attemptReq.Model = modelID

	start := time.Now()
	resp, err := client.Complete(ctx, attemptReq)
	observability.RecordModelCall(name, time.Since(start), err == nil)

	if err != nil && errors.Is(err, model.ErrProtocolShape) {
		alt := model.AlternateShape(attemptReq.Shape)
		*notes = append(*notes, fmt.Sprintf("model %s rejected the %s shape, retrying with %s", name, attemptReq.Shape, alt))
		logger.Info().Str("model", name).Str("shape", string(alt)).Msg("Retrying with alternate request shape")

		attemptReq.Shape = alt
		start = time.Now()
		resp, err = client.Complete(ctx, attemptReq)
		observability.RecordModelCall(name, time.Since(start), err == nil)
	}

	if err != nil {
		if classifyError(err) != "" {
			cooldown := c.recordFailure(name)
			logger.Debug().Str("model", name).Dur("cooldown", cooldown).Msg("Model entering cooldown")
		}
		return nil, err
	}

	c.recordSuccess(name)
	return resp, nil
}

// recordFailure bumps the model's failure count and arms an exponential
// cooldown. Returns the cooldown applied.
func (c *Controller) recordFailure(name string) time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()

	st := c.state[name]
	if st == nil {
		st = &candidateState{}
		c.state[name] = st
	}
	st.failures++
	cooldown := cooldownFor(c.cfg.BaseCooldown, c.cfg.MaxCooldown, st.failures)
	st.cooldownUntil = c.nowFn().Add(cooldown)
	observability.SetModelCooldown(name, true)
	return cooldown
}

// recordSuccess clears the model's failure count and cooldown.
func (c *Controller) recordSuccess(name string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	st := c.state[name]
	if st == nil {
		return
	}
	st.failures = 0
	st.cooldownUntil = time.Time{}
	observability.SetModelCooldown(name, false)
}

// CooldownRemaining reports how long the model stays ineligible, zero when
// it is eligible now.
func (c *Controller) CooldownRemaining(name string) time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()

	st := c.state[name]
	if st == nil {
		return 0
	}
	remaining := st.cooldownUntil.Sub(c.nowFn())
	if remaining < 0 {
		return 0
	}
	return remaining
}

// cooldownFor computes min(max, base * 5^(failures-1)).
func cooldownFor(base, max time.Duration, failures int) time.Duration {
	cooldown := base
	for i := 1; i < failures; i++ {
		cooldown *= 5
		if cooldown >= max {
			return max
		}
	}
	if cooldown > max {
		return max
	}
	return cooldown
}

func dedupe(names []string) []string {
	seen := make(map[string]bool, len(names))
	out := names[:0]
	for _, name := range names {
		if name == "" || seen[name] {
			continue
		}
		seen[name] = true
		out = append(out, name)
	}
	return out
}
