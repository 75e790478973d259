package audit

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Sink records events on a background goroutine. Record never blocks: when the
// buffer is full the event is logged and dropped. Store failures are only
// visible in the log.
type Sink struct {
	store  *Store
	log    *zap.Logger
	events chan Event
	wg     sync.WaitGroup
	once   sync.Once
}

func NewSink(store *Store, log *zap.Logger, buffer int) *Sink {
	if buffer < 1 {
		buffer = 1
	}
	return &Sink{
		store:  store,
		log:    log,
		events: make(chan Event, buffer),
	}
}

func (s *Sink) Start() {
	s.wg.Add(1)
	go s.run()
	s.log.Info("audit sink started", zap.Int("buffer", cap(s.events)))
}

// Stop drains pending events and waits for the worker.
func (s *Sink) Stop() {
	s.once.Do(func() { close(s.events) })
	s.wg.Wait()
	s.log.Info("audit sink stopped")
}

func (s *Sink) Record(_ context.Context, ev Event) {
	if ev.At.IsZero() {
		ev.At = time.Now().UTC()
	}
	defer func() {
		// Record after Stop must not take the caller down.
		if r := recover(); r != nil {
			s.log.Warn("audit event after sink stop", zap.String("action", string(ev.Action)))
		}
	}()
	select {
	case s.events <- ev:
	default:
		s.log.Warn("audit buffer full, event dropped",
			zap.String("action", string(ev.Action)),
			zap.String("entity_type", ev.EntityType),
			zap.Uint("entity_id", ev.EntityID),
		)
	}
}

func (s *Sink) run() {
	defer s.wg.Done()
	for ev := range s.events {
		s.write(ev)
	}
}

func (s *Sink) write(ev Event) {
	defer func() {
		if r := recover(); r != nil {
			s.log.Error("audit write panicked", zap.Any("panic", r))
		}
	}()

	fields := []zap.Field{
		zap.Bool("audit", true),
		zap.String("action", string(ev.Action)),
		zap.String("entity_type", ev.EntityType),
		zap.Uint("entity_id", ev.EntityID),
		zap.Uint("actor_id", ev.Actor.ID),
		zap.String("actor_role", string(ev.Actor.Role)),
	}
	if ev.DojoID != nil {
		fields = append(fields, zap.Uint("dojo_id", *ev.DojoID))
	}
	s.log.Info("audit event", fields...)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.store.Insert(ctx, ev); err != nil {
		s.log.Error("failed to store audit event", zap.Error(err), zap.String("action", string(ev.Action)))
	}
}
