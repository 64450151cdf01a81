// SPDX-License-Identifier: MIT

package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/waitgate/waitgate/internal/bus"
	"github.com/waitgate/waitgate/internal/cache"
	"github.com/waitgate/waitgate/internal/log"
	"github.com/waitgate/waitgate/internal/store"
)

// ManagerConfig wires the controller manager.
type ManagerConfig struct {
	Store     store.Store
	Bus       *bus.Bus
	Positions cache.Cache
	Interval  time.Duration
	Now       func() time.Time
}

// Manager owns one running controller per queue and keeps the map in sync
// with queue lifecycle changes.
type Manager struct {
	cfg ManagerConfig
	log zerolog.Logger

	mu          sync.Mutex
	controllers map[string]*managed
	ctx         context.Context
	wg          sync.WaitGroup
}

type managed struct {
	ctrl   *Controller
	cancel context.CancelFunc
}

// NewManager builds a manager. Controllers start via Start or Ensure.
func NewManager(cfg ManagerConfig) (*Manager, error) {
	if cfg.Store == nil {
		return nil, errors.New("engine: store must be set")
	}
	if cfg.Bus == nil {
		return nil, errors.New("engine: bus must be set")
	}
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultTickInterval
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Manager{
		cfg:         cfg,
		log:         log.WithComponent("engine.manager"),
		controllers: make(map[string]*managed),
	}, nil
}

func key(tenantID, queueID string) string {
	return tenantID + "/" + queueID
}

// Start launches a controller for every persisted queue and retains ctx as
// the parent lifetime of all controllers.
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	m.ctx = ctx
	m.mu.Unlock()

	queues, err := m.cfg.Store.ListAllQueues(ctx)
	if err != nil {
		return fmt.Errorf("engine: list queues: %w", err)
	}
	for _, q := range queues {
		if _, err := m.Ensure(ctx, q.TenantID, q.ID); err != nil {
			return err
		}
	}
	m.log.Info().Int("controllers", len(queues)).Msg("controller manager started")
	return nil
}

// Ensure returns the queue's controller, starting one when none runs yet.
func (m *Manager) Ensure(ctx context.Context, tenantID, queueID string) (*Controller, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	k := key(tenantID, queueID)
	if mc, ok := m.controllers[k]; ok {
		return mc.ctrl, nil
	}

	ctrl, err := NewController(Config{
		TenantID:  tenantID,
		QueueID:   queueID,
		Store:     m.cfg.Store,
		Bus:       m.cfg.Bus,
		Positions: m.cfg.Positions,
		Interval:  m.cfg.Interval,
		Now:       m.cfg.Now,
	})
	if err != nil {
		return nil, err
	}
	if err := ctrl.Load(ctx); err != nil {
		return nil, err
	}

	parent := m.ctx
	if parent == nil {
		parent = context.Background()
	}
	runCtx, cancel := context.WithCancel(parent)
	m.controllers[k] = &managed{ctrl: ctrl, cancel: cancel}

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		err := ctrl.Run(runCtx)
		// A structural stop removes the controller; context cancellation is
		// the normal shutdown path.
		if errors.Is(err, ErrQueueGone) {
			m.remove(k)
		}
	}()
	return ctrl, nil
}

// Get returns the controller for a queue when one is running.
func (m *Manager) Get(tenantID, queueID string) (*Controller, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	mc, ok := m.controllers[key(tenantID, queueID)]
	if !ok {
		return nil, false
	}
	return mc.ctrl, true
}

// Stop cancels and removes the queue's controller, if any.
func (m *Manager) Stop(tenantID, queueID string) {
	m.remove(key(tenantID, queueID))
}

func (m *Manager) remove(k string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if mc, ok := m.controllers[k]; ok {
		mc.cancel()
		delete(m.controllers, k)
	}
}

// Shutdown cancels every controller and waits for the run loops to exit.
func (m *Manager) Shutdown() {
	m.mu.Lock()
	for k, mc := range m.controllers {
		mc.cancel()
		delete(m.controllers, k)
	}
	m.mu.Unlock()
	m.wg.Wait()
}
