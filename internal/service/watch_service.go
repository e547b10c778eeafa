package service

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/tolkhub/jobwatch/config"
	"github.com/tolkhub/jobwatch/internal/backend"
	"github.com/tolkhub/jobwatch/internal/cache"
	"github.com/tolkhub/jobwatch/internal/model"
	"github.com/tolkhub/jobwatch/internal/model/dto"
	"github.com/tolkhub/jobwatch/internal/observability"
	"github.com/tolkhub/jobwatch/internal/pkg/apperr"
	"github.com/tolkhub/jobwatch/internal/pkg/clock"
	"github.com/tolkhub/jobwatch/internal/poller"
	"github.com/tolkhub/jobwatch/internal/reconciler"
)

type sessionKey struct {
	userID    string
	projectID string
}

type session struct {
	poller  *poller.Poller
	ctx     context.Context
	cancel  context.CancelFunc
	touched time.Time // guarded by WatchService.mu
}

// observeCtx keeps the request's values (access token) but ends with the session, not with the
// request. A reconciliation started by the observation must not die with a dropped client.
func (sess *session) observeCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	octx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	stop := context.AfterFunc(sess.ctx, cancel)
	return octx, func() {
		stop()
		cancel()
	}
}

func (sess *session) refresh(ctx context.Context) (dto.PollState, error) {
	octx, cancel := sess.observeCtx(ctx)
	defer cancel()
	err := sess.poller.Refresh(octx)
	return sess.poller.State(), err
}

// WatchService 每个 (用户, 项目) 一个观察会话：一个轮询器加一个对账标记
type WatchService struct {
	backend    backend.Backend
	cache      *cache.Client
	reconciler *reconciler.Reconciler
	cfg        config.PollerConfig
	clock      clock.Clock
	metrics    *observability.Metrics

	mu       sync.Mutex
	sessions map[sessionKey]*session
}

func NewWatchService(
	b backend.Backend,
	c *cache.Client,
	r *reconciler.Reconciler,
	cfg config.PollerConfig,
	clk clock.Clock,
	metrics *observability.Metrics,
) *WatchService {
	if clk == nil {
		clk = clock.Real()
	}
	return &WatchService{
		backend:    b,
		cache:      c,
		reconciler: r,
		cfg:        cfg,
		clock:      clk,
		metrics:    metrics,
		sessions:   make(map[sessionKey]*session),
	}
}

// Open mounts a watch session and observes the project immediately. Opening an existing session
// only refreshes it. The session keeps the values of ctx (access token, user) but not its
// cancellation.
func (s *WatchService) Open(ctx context.Context, userID, projectID string) (dto.PollState, error) {
	if _, err := cache.Fetch(ctx, s.cache, cache.ProjectKey(projectID), func(ctx context.Context) (*model.Project, error) {
		return s.backend.GetProject(ctx, projectID)
	}); err != nil {
		return dto.PollState{}, err
	}

	key := sessionKey{userID: userID, projectID: projectID}
	s.mu.Lock()
	if existing, ok := s.sessions[key]; ok {
		existing.touched = s.clock.Now()
		s.mu.Unlock()
		return existing.refresh(ctx)
	}

	sctx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	p := poller.New(projectID, s.cache, s.backend, poller.Options{
		Intervals:   s.cfg.Intervals,
		MaxAttempts: s.cfg.MaxAttempts,
		Clock:       s.clock,
		Observer:    s.reconciler.Track(projectID, userID),
		Hints:       s.reconciler,
		Metrics:     s.metrics,
		Logger:      slog.With("userId", userID),
	})
	sess := &session{poller: p, ctx: sctx, cancel: cancel, touched: s.clock.Now()}
	s.sessions[key] = sess
	s.mu.Unlock()
	s.metrics.RecordSessionOpened(ctx)

	if err := p.SetEnabled(sctx, true); err != nil {
		s.remove(key, sess)
		return dto.PollState{}, err
	}
	return p.State(), nil
}

// Close unmounts the session. It reports whether one existed.
func (s *WatchService) Close(userID, projectID string) bool {
	key := sessionKey{userID: userID, projectID: projectID}
	s.mu.Lock()
	sess, ok := s.sessions[key]
	s.mu.Unlock()
	if !ok {
		return false
	}
	return s.remove(key, sess)
}

// CloseUser closes every session of a user, e.g. once their last connection went away.
func (s *WatchService) CloseUser(userID string) int {
	s.mu.Lock()
	var keys []sessionKey
	var sessions []*session
	for k, sess := range s.sessions {
		if k.userID == userID {
			keys = append(keys, k)
			sessions = append(sessions, sess)
		}
	}
	s.mu.Unlock()

	closed := 0
	for i, k := range keys {
		if s.remove(k, sessions[i]) {
			closed++
		}
	}
	if closed > 0 {
		slog.Info("watch sessions closed", "userId", userID, "count", closed)
	}
	return closed
}

func (s *WatchService) remove(key sessionKey, sess *session) bool {
	s.mu.Lock()
	if s.sessions[key] != sess {
		s.mu.Unlock()
		return false
	}
	delete(s.sessions, key)
	s.mu.Unlock()

	sess.poller.Close()
	sess.cancel()
	s.metrics.RecordSessionClosed(context.Background())
	return true
}

func (s *WatchService) get(userID, projectID string) (*session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[sessionKey{userID: userID, projectID: projectID}]
	if !ok {
		return nil, apperr.NotFound("watch session", projectID)
	}
	sess.touched = s.clock.Now()
	return sess, nil
}

// Start 手动重启轮询，只有任务处于 running 时生效
func (s *WatchService) Start(userID, projectID string) (dto.PollState, bool, error) {
	sess, err := s.get(userID, projectID)
	if err != nil {
		return dto.PollState{}, false, err
	}
	restarted := sess.poller.StartPolling()
	return sess.poller.State(), restarted, nil
}

// Stop 手动停止轮询
func (s *WatchService) Stop(userID, projectID string) (dto.PollState, error) {
	sess, err := s.get(userID, projectID)
	if err != nil {
		return dto.PollState{}, err
	}
	sess.poller.StopPolling()
	return sess.poller.State(), nil
}

func (s *WatchService) State(userID, projectID string) (dto.PollState, error) {
	sess, err := s.get(userID, projectID)
	if err != nil {
		return dto.PollState{}, err
	}
	return sess.poller.State(), nil
}

// Refresh observes the project once outside the tick schedule.
func (s *WatchService) Refresh(ctx context.Context, userID, projectID string) (dto.PollState, error) {
	sess, err := s.get(userID, projectID)
	if err != nil {
		return dto.PollState{}, err
	}
	return sess.refresh(ctx)
}

func (s *WatchService) Count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}

// SweepIdle closes sessions that are not polling and were not used for longer than maxIdle.
// Sessions of users without a websocket are otherwise never closed.
func (s *WatchService) SweepIdle(maxIdle time.Duration) int {
	now := s.clock.Now()
	s.mu.Lock()
	var keys []sessionKey
	var stale []*session
	for k, sess := range s.sessions {
		if now.Sub(sess.touched) > maxIdle {
			keys = append(keys, k)
			stale = append(stale, sess)
		}
	}
	s.mu.Unlock()

	closed := 0
	for i, k := range keys {
		if stale[i].poller.IsPolling() {
			continue
		}
		if s.remove(k, stale[i]) {
			closed++
		}
	}
	return closed
}

// Shutdown closes every session.
func (s *WatchService) Shutdown() {
	s.mu.Lock()
	all := make(map[sessionKey]*session, len(s.sessions))
	for k, sess := range s.sessions {
		all[k] = sess
	}
	s.mu.Unlock()

	for k, sess := range all {
		s.remove(k, sess)
	}
}
