package policy

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/yanboyang713/Sandboxing-for-AI-Coding-Agents/internal/log"
	"github.com/yanboyang713/Sandboxing-for-AI-Coding-Agents/internal/model"
)

// StoreConfig is the configuration of the policy store.
type StoreConfig struct {
	RuleSet model.PolicyRuleSet
	Logger  log.Logger
}

func (c *StoreConfig) defaults() error {
	if c.Logger == nil {
		c.Logger = log.Noop
	}
	c.Logger = c.Logger.WithValues(log.Kv{"svc": "policy.Store"})

	return nil
}

// Store holds the current policy engine. Updates compile a new versioned engine
// that is swapped atomically, evaluations never see a half updated rule set.
type Store struct {
	current atomic.Pointer[Engine]
	mu      sync.Mutex
	logger  log.Logger
}

// NewStore returns a new policy store with the initial rule set as version 1.
func NewStore(cfg StoreConfig) (*Store, error) {
	if err := cfg.defaults(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	e, err := NewEngine(cfg.RuleSet, 1)
	if err != nil {
		return nil, err
	}

	s := &Store{logger: cfg.Logger}
	s.current.Store(e)

	return s, nil
}

// Current returns the current policy engine.
func (s *Store) Current() *Engine {
	return s.current.Load()
}

// Swap replaces the current rule set. On error the current one is kept.
func (s *Store) Swap(ruleSet model.PolicyRuleSet) (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	next := s.current.Load().Version() + 1
	e, err := NewEngine(ruleSet, next)
	if err != nil {
		return 0, err
	}
	s.current.Store(e)
	s.logger.Infof("Policy swapped to version %d", next)

	return next, nil
}
