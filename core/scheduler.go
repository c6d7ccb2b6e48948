package core

import (
	"context"
	"errors"
	"strings"
	"time"
)

// JobIDRefresh names the background refresh job for queue-backed deployments.
const JobIDRefresh = "marketplace.refresh"

// RefreshScheduler periodically scans active connections and refreshes the
// ones inside their lead window. With an enqueuer configured the due work is
// handed to the job queue instead of running inline.
type RefreshScheduler struct {
	service  *Service
	interval time.Duration
	enqueuer JobEnqueuer
	logger   Logger
}

type SchedulerOption func(*RefreshScheduler)

func WithSchedulerInterval(interval time.Duration) SchedulerOption {
	return func(s *RefreshScheduler) {
		if interval > 0 {
			s.interval = interval
		}
	}
}

func WithSchedulerEnqueuer(enqueuer JobEnqueuer) SchedulerOption {
	return func(s *RefreshScheduler) {
		s.enqueuer = enqueuer
	}
}

func WithSchedulerLogger(logger Logger) SchedulerOption {
	return func(s *RefreshScheduler) {
		if logger != nil {
			s.logger = logger
		}
	}
}

func NewRefreshScheduler(service *Service, opts ...SchedulerOption) (*RefreshScheduler, error) {
	if service == nil {
		return nil, errors.New("core: refresh scheduler requires a service")
	}
	scheduler := &RefreshScheduler{
		service:  service,
		interval: service.Config().Refresh.Interval(),
		logger:   service.Logger(),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(scheduler)
		}
	}
	return scheduler, nil
}

// Run blocks until the context is cancelled, ticking at the configured
// interval. The first scan happens on the first tick, not at start.
func (s *RefreshScheduler) Run(ctx context.Context) error {
	if s == nil || s.service == nil {
		return errors.New("core: refresh scheduler is not configured")
	}
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			s.Tick(ctx)
		}
	}
}

// Tick runs one scan. Exported so queue workers and tests can drive the
// scheduler without the timer loop.
func (s *RefreshScheduler) Tick(ctx context.Context) {
	due, err := s.service.ListRefreshDue(ctx)
	if err != nil {
		if s.logger != nil {
			s.logger.Error("refresh scan failed", "error", err.Error())
		}
		return
	}

	for _, conn := range due {
		if ctx.Err() != nil {
			return
		}
		s.dispatch(ctx, conn)
	}
}

func (s *RefreshScheduler) dispatch(ctx context.Context, conn Connection) {
	if s.enqueuer != nil {
		msg := &JobExecutionMessage{
			JobID:          JobIDRefresh,
			IdempotencyKey: strings.Join([]string{JobIDRefresh, conn.ID}, ":"),
			Parameters: map[string]any{
				"account_id":    conn.AccountID,
				"connection_id": conn.ID,
			},
		}
		if err := s.enqueuer.Enqueue(ctx, msg); err != nil && s.logger != nil {
			s.logger.Error("refresh enqueue failed", "connection_id", conn.ID, "error", err.Error())
		}
		return
	}

	if _, err := s.service.RefreshNow(ctx, conn.AccountID); err != nil && s.logger != nil {
		s.logger.Error("scheduled refresh failed", "connection_id", conn.ID, "error", err.Error())
	}
}

// ListRefreshDue returns the active connections whose credentials sit inside
// their refresh lead window. Connections that lost their credential are
// skipped, not failed.
func (s *Service) ListRefreshDue(ctx context.Context) ([]Connection, error) {
	if s == nil {
		return nil, errors.New("core: service is nil")
	}
	active, err := s.connectionStore.ListByStatus(ctx, ConnectionStatusActive)
	if err != nil {
		return nil, s.mapError(err)
	}

	now := s.nowUTC()
	due := make([]Connection, 0, len(active))
	for _, conn := range active {
		credential, err := s.credentialStore.GetActiveByConnection(ctx, conn.ID)
		if err != nil {
			if errors.Is(err, ErrActiveCredentialNotFound) {
				continue
			}
			return nil, s.mapError(err)
		}
		token, err := s.decodeCredential(credential)
		if err != nil {
			continue
		}
		state := ResolveTokenState(now, token, s.config.Refresh.ExpiringSoonWindow())
		lead := RefreshLeadWindow(s.config.Refresh.LeadTime(), s.config.Refresh.LeadFraction, credential.Lifetime())
		if ShouldRefreshToken(now, state, lead) {
			due = append(due, conn)
		}
	}
	return due, nil
}
