package sandbox

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
)

// Janitor periodically stops sandbox containers that have been idle beyond
// the TTL. It only ever stops containers; EnsureEnvironment restarts them on
// the conversation's next turn.
type Janitor struct {
	manager *Manager
	cron    *cron.Cron
	ttl     time.Duration
	logger  zerolog.Logger
}

// NewJanitor creates a janitor from the manager's sandbox config. spec uses
// the cron syntax including descriptors like "@every 30m".
func NewJanitor(manager *Manager, spec string, ttl time.Duration, logger zerolog.Logger) (*Janitor, error) {
	if manager == nil {
		return nil, fmt.Errorf("sandbox manager is required")
	}
	if strings.TrimSpace(spec) == "" {
		spec = "@every 30m"
	}
	if ttl <= 0 {
		ttl = 4 * time.Hour
	}

	j := &Janitor{
		manager: manager,
		cron:    cron.New(),
		ttl:     ttl,
		logger:  logger,
	}
	if _, err := j.cron.AddFunc(spec, j.sweep); err != nil {
		return nil, fmt.Errorf("invalid janitor schedule %q: %w", spec, err)
	}
	return j, nil
}

// Start begins the sweep schedule.
func (j *Janitor) Start() {
	j.cron.Start()
	j.logger.Info().Dur("idle_ttl", j.ttl).Msg("Sandbox janitor started")
}

// Stop halts the schedule and waits for a running sweep to finish.
func (j *Janitor) Stop() {
	ctx := j.cron.Stop()
	<-ctx.Done()
	j.logger.Info().Msg("Sandbox janitor stopped")
}

func (j *Janitor) sweep() {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	if stopped := j.manager.StopIdle(ctx, j.ttl); stopped > 0 {
		j.logger.Info().Int("stopped", stopped).Msg("Sandbox janitor sweep finished")
	}
}
