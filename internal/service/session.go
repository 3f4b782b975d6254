package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/paulmach/orb"

	"github.com/joeblew999/plat-choropleth/internal/mapview"
	"github.com/joeblew999/plat-choropleth/internal/surface"
	"github.com/joeblew999/plat-choropleth/internal/tier"
)

var (
	ErrSessionNotFound = errors.New("session not found")
	ErrTooManySessions = errors.New("too many sessions")
	ErrUnknownEvent    = errors.New("unknown renderer event")
)

// SessionDeps are shared by every session's engine.
type SessionDeps struct {
	Tiers      *tier.Registry
	Index      surface.Index
	Geocoder   mapview.Geocoder
	Aggregates mapview.Aggregates
	Dates      mapview.DateCatalogue
	Bus        *EventBus
	Logger     *slog.Logger
	// MaxSessions caps concurrent sessions; 0 means no cap.
	MaxSessions int
	// IdleTimeout expires sessions not touched for this long; 0 keeps them.
	IdleTimeout time.Duration
	// Boundaries, if set, is asked to load every tier's outline document
	// when a session is created, so clicks can be matched to drawn features.
	Boundaries BoundaryFetcher
}

// BoundaryFetcher loads outline documents into the feature index. Documents
// already held are skipped.
type BoundaryFetcher interface {
	FetchAll(ctx context.Context, urls []string) error
}

// Session is one viewer's map engine and the surface its stream drains. A
// session has at most one stream; its surface commands go to that stream.
type Session struct {
	ID      string
	Engine  *mapview.Engine
	Surface *surface.Commands
	Created time.Time

	mu      sync.Mutex
	touched time.Time

	streaming atomic.Bool
}

// ClaimStream reserves the session's single renderer stream. It reports
// false while another stream holds it.
func (s *Session) ClaimStream() bool { return s.streaming.CompareAndSwap(false, true) }

// ReleaseStream frees the stream claimed by ClaimStream.
func (s *Session) ReleaseStream() { s.streaming.Store(false) }

func (s *Session) touch() {
	s.mu.Lock()
	s.touched = time.Now()
	s.mu.Unlock()
}

func (s *Session) idleSince() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.touched
}

// Info snapshots the session for the REST API.
func (s *Session) Info() SessionInfo {
	e := s.Engine
	return SessionInfo{
		ID:         s.ID,
		Stage:      e.Stage().String(),
		Loading:    e.Loading(),
		Date:       e.Date(),
		Viewport:   e.Viewport(),
		ActiveTier: e.ActiveTier().ID,
		Selection:  e.Selection(),
		Overlay:    e.Overlay(),
		Legend:     e.Legend(),
		View:       mapview.DefaultView,
	}
}

// SessionService manages viewer sessions in memory.
type SessionService struct {
	deps     SessionDeps
	log      *slog.Logger
	mu       sync.RWMutex
	sessions map[string]*Session

	ctx    context.Context // cancelled by Close; bounds background fetches
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewSessionService creates a session service.
func NewSessionService(deps SessionDeps) *SessionService {
	if deps.Bus == nil {
		deps.Bus = DefaultBus
	}
	log := deps.Logger
	if log == nil {
		log = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &SessionService{deps: deps, log: log, sessions: make(map[string]*Session), ctx: ctx, cancel: cancel}
}

// Bus returns the bus session changes are published on.
func (s *SessionService) Bus() *EventBus { return s.deps.Bus }

// Create starts a new session. Its date filter starts at the latest
// catalogued date when one is known.
func (s *SessionService) Create(ctx context.Context) (*Session, error) {
	if s.full() {
		return nil, ErrTooManySessions
	}

	id := uuid.NewString()
	var date string
	if s.deps.Dates != nil {
		if d, err := s.deps.Dates.LatestDate(ctx); err == nil {
			date = d
		}
	}
	sess := &Session{ID: id, Surface: surface.New(s.deps.Index), Created: time.Now()}
	sess.touched = sess.Created
	log := s.log.With("session", id)
	bus := s.deps.Bus
	engine, err := mapview.New(mapview.Config{
		Tiers:      s.deps.Tiers,
		NewSurface: func() mapview.Surface { return sess.Surface },
		Geocoder:   s.deps.Geocoder,
		Aggregates: s.deps.Aggregates,
		Dates:      s.deps.Dates,
		Logger:     log,
		Date:       date,
		Notify: func(c mapview.Change) {
			EngineChanges.WithLabelValues(string(c.Kind)).Inc()
			bus.Publish(Event{Session: id, Kind: string(c.Kind)})
		},
	})
	if err != nil {
		return nil, fmt.Errorf("creating engine: %w", err)
	}
	engine.Start()
	sess.Engine = engine

	s.mu.Lock()
	if s.deps.MaxSessions > 0 && len(s.sessions) >= s.deps.MaxSessions {
		s.mu.Unlock()
		engine.Close()
		return nil, ErrTooManySessions
	}
	s.sessions[id] = sess
	SessionsActive.Set(float64(len(s.sessions)))
	s.mu.Unlock()

	s.fetchBoundaries(log)
	log.Info("session created", "date", date)
	return sess, nil
}

func (s *SessionService) full() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.deps.MaxSessions > 0 && len(s.sessions) >= s.deps.MaxSessions
}

// fetchBoundaries loads the outline documents in the background. Until they
// arrive, clicks select without highlighting.
func (s *SessionService) fetchBoundaries(log *slog.Logger) {
	if s.deps.Boundaries == nil {
		return
	}
	urls := s.deps.Tiers.BoundaryURLs()
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if err := s.deps.Boundaries.FetchAll(s.ctx, urls); err != nil {
			log.Warn("boundaries not loaded", "err", err)
		}
	}()
}

// Wait blocks until background boundary fetches finish.
func (s *SessionService) Wait() { s.wg.Wait() }

// Get returns a session and marks it used.
func (s *SessionService) Get(id string) (*Session, error) {
	s.mu.RLock()
	sess, ok := s.sessions[id]
	s.mu.RUnlock()
	if !ok {
		return nil, ErrSessionNotFound
	}
	sess.touch()
	return sess, nil
}

// List returns the session IDs, sorted.
func (s *SessionService) List() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := make([]string, 0, len(s.sessions))
	for id := range s.sessions {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Delete closes and removes a session.
func (s *SessionService) Delete(id string) error {
	s.mu.Lock()
	sess, ok := s.sessions[id]
	delete(s.sessions, id)
	SessionsActive.Set(float64(len(s.sessions)))
	s.mu.Unlock()
	if !ok {
		return ErrSessionNotFound
	}
	sess.Engine.Close()
	s.deps.Bus.Publish(Event{Session: id, Kind: KindClosed})
	s.log.Info("session closed", "session", id)
	return nil
}

// Expire removes sessions idle for longer than the idle timeout and returns
// how many were removed.
func (s *SessionService) Expire(now time.Time) int {
	if s.deps.IdleTimeout <= 0 {
		return 0
	}
	var stale []string
	s.mu.RLock()
	for id, sess := range s.sessions {
		if now.Sub(sess.idleSince()) > s.deps.IdleTimeout {
			stale = append(stale, id)
		}
	}
	s.mu.RUnlock()
	for _, id := range stale {
		_ = s.Delete(id)
	}
	return len(stale)
}

// Run expires idle sessions until ctx is done.
func (s *SessionService) Run(ctx context.Context) {
	if s.deps.IdleTimeout <= 0 {
		return
	}
	t := time.NewTicker(s.deps.IdleTimeout / 2)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-t.C:
			if n := s.Expire(now); n > 0 {
				s.log.Debug("sessions expired", "count", n)
			}
		}
	}
}

// Close closes every session and cancels background fetches.
func (s *SessionService) Close() {
	for _, id := range s.List() {
		_ = s.Delete(id)
	}
	s.cancel()
	s.wg.Wait()
}

// Dispatch applies a renderer event to a session's engine.
func (s *SessionService) Dispatch(id string, ev EventInput) error {
	sess, err := s.Get(id)
	if err != nil {
		return err
	}
	e := sess.Engine
	switch ev.Type {
	case "load":
		return e.OnLoad()
	case "styledata":
		e.OnStyleData()
		return nil
	case "zoom":
		if ev.Zoom == nil {
			return &tier.InvalidViewportError{Zoom: math.NaN(), Reason: "zoom missing"}
		}
		var center orb.Point
		if len(ev.Center) == 2 {
			center = orb.Point{ev.Center[0], ev.Center[1]}
		}
		return e.OnZoom(*ev.Zoom, center)
	case "click":
		return e.OnClick(ev.Layer, ev.Click)
	case "render":
		e.OnRender()
		return nil
	}
	return fmt.Errorf("%w: %q", ErrUnknownEvent, ev.Type)
}
