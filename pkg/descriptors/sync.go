package descriptors

import (
	"context"
	"errors"
	"reflect"
	"sort"
	"sync"

	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-ask/pkg/logging"
	"github.com/ekaya-inc/ekaya-ask/pkg/models"
)

// Engine is the part of the query engine a Syncer drives.
type Engine interface {
	Connect(ctx context.Context, desc models.ConnectionDescriptor) (string, error)
	Disconnect(ctx context.Context, id string) error
	Reconnect(ctx context.Context, id string, creds *models.Credentials) error
}

type applied struct {
	id   string
	desc models.ConnectionDescriptor
}

// Syncer reconciles the engine's connections with a descriptors file. Only
// connections it created are touched.
type Syncer struct {
	engine Engine
	logger *zap.Logger

	mu      sync.Mutex
	applied map[string]applied
}

// NewSyncer creates a Syncer over engine.
func NewSyncer(engine Engine, logger *zap.Logger) *Syncer {
	return &Syncer{
		engine:  engine,
		logger:  logger.Named("descriptors"),
		applied: make(map[string]applied),
	}
}

// Apply connects new entries, reconnects entries whose credentials changed,
// replaces entries whose type or nickname changed and disconnects removed
// entries. Entries that fail to connect are retried on the next Apply.
func (s *Syncer) Apply(ctx context.Context, f *File) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	wanted := make(map[string]models.ConnectionDescriptor, len(f.Connections))
	for _, e := range f.Connections {
		wanted[e.Name] = e.Descriptor()
	}

	var errs []error
	for _, name := range s.sortedApplied() {
		if _, ok := wanted[name]; ok {
			continue
		}
		if err := s.remove(ctx, name); err != nil {
			errs = append(errs, err)
		}
	}

	for _, e := range f.Connections {
		if err := s.apply(ctx, e.Name, wanted[e.Name]); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (s *Syncer) apply(ctx context.Context, name string, desc models.ConnectionDescriptor) error {
	prev, ok := s.applied[name]
	switch {
	case !ok:
		return s.connect(ctx, name, desc)
	case prev.desc.Type != desc.Type || prev.desc.Family != desc.Family || prev.desc.Nickname != desc.Nickname:
		if err := s.remove(ctx, name); err != nil {
			return err
		}
		return s.connect(ctx, name, desc)
	case !reflect.DeepEqual(prev.desc.Credentials, desc.Credentials):
		creds := desc.Credentials
		if err := s.engine.Reconnect(ctx, prev.id, &creds); err != nil {
			s.logger.Warn("Failed to reconnect with changed credentials",
				zap.String("name", name),
				zap.String("connection_id", prev.id),
				zap.String("error", logging.SanitizeError(err)))
			return err
		}
		s.applied[name] = applied{id: prev.id, desc: desc}
		s.logger.Info("Reconnected with changed credentials",
			zap.String("name", name),
			zap.String("connection_id", prev.id))
	}
	return nil
}

func (s *Syncer) connect(ctx context.Context, name string, desc models.ConnectionDescriptor) error {
	id, err := s.engine.Connect(ctx, desc)
	if err != nil {
		s.logger.Warn("Failed to connect descriptor",
			zap.String("name", name),
			zap.String("type", desc.Type),
			zap.String("error", logging.SanitizeError(err)))
		return err
	}
	s.applied[name] = applied{id: id, desc: desc}
	s.logger.Info("Connected descriptor",
		zap.String("name", name),
		zap.String("type", desc.Type),
		zap.String("connection_id", id))
	return nil
}

func (s *Syncer) remove(ctx context.Context, name string) error {
	prev := s.applied[name]
	delete(s.applied, name)
	if err := s.engine.Disconnect(ctx, prev.id); err != nil {
		s.logger.Warn("Failed to disconnect removed descriptor",
			zap.String("name", name),
			zap.String("connection_id", prev.id),
			zap.String("error", logging.SanitizeError(err)))
		return err
	}
	s.logger.Info("Disconnected removed descriptor",
		zap.String("name", name),
		zap.String("connection_id", prev.id))
	return nil
}

func (s *Syncer) sortedApplied() []string {
	names := make([]string, 0, len(s.applied))
	for name := range s.applied {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// IDs returns the engine id of each connected entry by name.
func (s *Syncer) IDs() map[string]string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]string, len(s.applied))
	for name, a := range s.applied {
		out[name] = a.id
	}
	return out
}
