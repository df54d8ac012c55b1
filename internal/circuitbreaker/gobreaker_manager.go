package circuitbreaker

import (
	"sort"
	"sync"

	"wechat-gateway/internal/common/logging"
)

// GoBreakerManager keeps one breaker per platform endpoint
type GoBreakerManager struct {
	breakers map[string]*GoBreakerAdapter
	logger   logging.Logger
	mu       sync.RWMutex
}

// NewGoBreakerManager creates a new manager using gobreaker
func NewGoBreakerManager(logger logging.Logger) *GoBreakerManager {
	if logger == nil {
		logger = logging.GetGlobalLogger()
	}

	return &GoBreakerManager{
		breakers: make(map[string]*GoBreakerAdapter),
		logger:   logger,
	}
}

// GetOrCreate gets an existing circuit breaker or creates a new one
func (m *GoBreakerManager) GetOrCreate(name string, config Config) *GoBreakerAdapter {
	m.mu.RLock()
	breaker, exists := m.breakers[name]
	m.mu.RUnlock()
	if exists {
		return breaker
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if breaker, exists := m.breakers[name]; exists {
		return breaker
	}

	breaker = NewGoBreaker(name, config, m.logger)
	m.breakers[name] = breaker
	return breaker
}

// AllStats returns statistics for all circuit breakers, ordered by name
func (m *GoBreakerManager) AllStats() []Stats {
	m.mu.RLock()
	defer m.mu.RUnlock()

	stats := make([]Stats, 0, len(m.breakers))
	for _, breaker := range m.breakers {
		stats = append(stats, breaker.Stats())
	}
	sort.Slice(stats, func(i, j int) bool { return stats[i].Name < stats[j].Name })

	return stats
}
