package watch

import (
	"context"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
)

// Registry tracks open sessions so periodic work can reach them.
type Registry struct {
	mu       sync.Mutex
	sessions map[*Session]struct{}
}

func NewRegistry() *Registry {
	return &Registry{sessions: make(map[*Session]struct{})}
}

func (r *Registry) add(s *Session) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sessions[s] = struct{}{}
}

func (r *Registry) remove(s *Session) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.sessions, s)
}

func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

func (r *Registry) list() []*Session {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*Session, 0, len(r.sessions))
	for s := range r.sessions {
		out = append(out, s)
	}
	return out
}

// TickAll re-evaluates every open session.
func (r *Registry) TickAll(ctx context.Context) {
	for _, s := range r.list() {
		tctx, cancel := context.WithTimeout(ctx, 5*time.Second)
		if err := s.Tick(tctx); err != nil && err != ErrClosed {
			logrus.WithError(err).WithField("device_id", s.scope.DeviceID).Warn("Watch session tick failed.")
		}
		cancel()
	}
}

// CloseAll closes every open session.
func (r *Registry) CloseAll() {
	for _, s := range r.list() {
		s.Close()
	}
}

// StartTicker schedules TickAll with a cron spec such as "@every 1m".
func StartTicker(r *Registry, spec string) (*cron.Cron, error) {
	if spec == "" {
		spec = "@every 1m"
	}
	c := cron.New()
	if _, err := c.AddFunc(spec, func() { r.TickAll(context.Background()) }); err != nil {
		return nil, err
	}
	c.Start()
	logrus.WithField("spec", spec).Info("Movement window ticker started.")
	return c, nil
}
