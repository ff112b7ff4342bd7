// Package mutation applies allow-listed partial updates to scheduling entities.
package mutation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"strings"
	"time"

	"schedulers.app/internal/audit"
	"schedulers.app/internal/auth"
	"schedulers.app/internal/obs"
)

var (
	ErrNoValidFields = errors.New("mutation: no valid fields")
	ErrUnknownEntity = errors.New("mutation: unknown entity type")
)

// Engine validates mutation requests against entity allow-lists and hands
// the result to an Executor.
type Engine struct {
	registry *Registry
	exec     Executor
	recorder *audit.Recorder
	logger   *slog.Logger
	now      func() time.Time
}

// Option configures an Engine.
type Option func(*Engine)

func WithRecorder(r *audit.Recorder) Option {
	return func(e *Engine) { e.recorder = r }
}

func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) {
		if l != nil {
			e.logger = l
		}
	}
}

func WithClock(fn func() time.Time) Option {
	return func(e *Engine) {
		if fn != nil {
			e.now = fn
		}
	}
}

// NewEngine returns an engine over registry and exec.
func NewEngine(registry *Registry, exec Executor, opts ...Option) (*Engine, error) {
	if registry == nil || exec == nil {
		return nil, errors.New("mutation: registry and executor are required")
	}
	e := &Engine{
		registry: registry,
		exec:     exec,
		logger:   obs.Logger(),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	e.logger = e.logger.With("component", "mutation")
	return e, nil
}

// Registry returns the entity registry.
func (e *Engine) Registry() *Registry { return e.registry }

// Mutate applies the allow-listed subset of requested to entity id on behalf
// of actor. Keys outside the allow-list are dropped silently. Nothing is
// written unless every kept value validates.
func (e *Engine) Mutate(ctx context.Context, entityType string, id int64, actor auth.Principal, requested map[string]any) (ChangeSet, error) {
	ent, ok := e.registry.Lookup(entityType)
	if !ok {
		return ChangeSet{}, fmt.Errorf("%w: %q", ErrUnknownEntity, entityType)
	}
	cs, err := e.mutate(ctx, ent, id, actor, requested)
	obs.ObserveMutation(entityType, outcome(err))
	return cs, err
}

func (e *Engine) mutate(ctx context.Context, ent Mutable, id int64, actor auth.Principal, requested map[string]any) (ChangeSet, error) {
	name := ent.EntityType()
	if err := auth.Authorize(actor, ent.EditorRoles()...); err != nil {
		e.denied(ctx, ent, id, actor, err)
		return ChangeSet{}, err
	}
	if id <= 0 {
		return ChangeSet{}, fmt.Errorf("%w: %s %d", auth.ErrNotFound, name, id)
	}
	// A missing row is NotFound whatever the payload carries.
	if err := e.mustExist(ctx, ent, id); err != nil {
		return ChangeSet{}, err
	}
	if g, ok := ent.(Guarded); ok {
		if err := g.GuardMutation(actor, id, requested); err != nil {
			e.denied(ctx, ent, id, actor, err)
			return ChangeSet{}, err
		}
	}
	if g, ok := ent.(TargetGuarded); ok {
		if err := e.guardTarget(ctx, g, ent, id, actor, requested); err != nil {
			return ChangeSet{}, err
		}
	}

	allowed := ent.AllowedFields()
	keys := make([]string, 0, len(requested))
	for k := range requested {
		if _, ok := allowed[k]; ok {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	if dropped := len(requested) - len(keys); dropped > 0 {
		e.logger.Debug("dropped fields outside allow-list", "entity", name, "count", dropped)
	}
	if len(keys) == 0 {
		return ChangeSet{}, fmt.Errorf("%w for %s", ErrNoValidFields, name)
	}

	changes := make([]Change, 0, len(keys))
	for _, k := range keys {
		v, err := allowed[k].Normalize(k, requested[k])
		if err != nil {
			return ChangeSet{}, err
		}
		changes = append(changes, Change{Field: k, Value: v})
	}

	cs := ChangeSet{
		Entity:  name,
		Table:   ent.Table(),
		ID:      id,
		Changes: changes,
		ActorID: actor.ID,
		At:      e.now().UTC(),
	}
	if s, ok := ent.(Stamped); ok {
		cs.StampAt, cs.StampBy = s.StampColumns()
	}
	if u, ok := ent.(Unique); ok {
		cs.Unique = u.UniqueFields()
	}

	if err := e.exec.Apply(ctx, cs); err != nil {
		switch {
		case errors.Is(err, auth.ErrNotFound), errors.Is(err, auth.ErrConflict):
			return ChangeSet{}, err
		default:
			e.logger.Error("apply mutation failed", "entity", name, "id", id, "error", err)
			return ChangeSet{}, fmt.Errorf("%w: apply %s mutation: %v", auth.ErrServiceUnavailable, name, err)
		}
	}

	e.recorder.Record(ctx, audit.Entry{
		ActorID:      audit.Actor(actor.ID),
		Action:       audit.UpdateAction(name),
		ResourceType: name,
		ResourceID:   strconv.FormatInt(id, 10),
		Detail:       "fields=" + strings.Join(cs.Fields(), ","),
	})
	return cs, nil
}

func (e *Engine) mustExist(ctx context.Context, ent Mutable, id int64) error {
	ok, err := e.exec.Exists(ctx, ent.Table(), id)
	if err != nil {
		e.logger.Error("existence check failed", "entity", ent.EntityType(), "id", id, "error", err)
		return fmt.Errorf("%w: lookup %s: %v", auth.ErrServiceUnavailable, ent.EntityType(), err)
	}
	if !ok {
		return fmt.Errorf("%w: %s %d", auth.ErrNotFound, ent.EntityType(), id)
	}
	return nil
}

func (e *Engine) guardTarget(ctx context.Context, g TargetGuarded, ent Mutable, id int64, actor auth.Principal, requested map[string]any) error {
	current, err := e.exec.Column(ctx, ent.Table(), id, g.GuardColumn())
	if err != nil {
		if errors.Is(err, auth.ErrNotFound) {
			return fmt.Errorf("%w: %s %d", auth.ErrNotFound, ent.EntityType(), id)
		}
		e.logger.Error("guard lookup failed", "entity", ent.EntityType(), "id", id, "error", err)
		return fmt.Errorf("%w: lookup %s: %v", auth.ErrServiceUnavailable, ent.EntityType(), err)
	}
	if err := g.GuardTarget(actor, current, requested); err != nil {
		e.denied(ctx, ent, id, actor, err)
		return err
	}
	return nil
}

func (e *Engine) denied(ctx context.Context, ent Mutable, id int64, actor auth.Principal, reason error) {
	e.recorder.Record(ctx, audit.Entry{
		ActorID:      audit.Actor(actor.ID),
		Action:       audit.ActionAccessForbidden,
		ResourceType: ent.EntityType(),
		ResourceID:   strconv.FormatInt(id, 10),
		Detail:       reason.Error(),
	})
}

func outcome(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, auth.ErrForbidden):
		return "forbidden"
	case errors.Is(err, auth.ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrNoValidFields):
		return "no_fields"
	case errors.Is(err, auth.ErrInvalidInput):
		return "invalid"
	case errors.Is(err, auth.ErrConflict):
		return "conflict"
	default:
		return "error"
	}
}
