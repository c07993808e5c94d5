package memory

import (
	"context"
	"strings"
	"sync"

	"github.com/reliefworks/jobharvester/internal/harvest"
)

// RobotsCacheStore caches robots.txt bodies per host in-memory.
type RobotsCacheStore struct {
	mu      sync.RWMutex
	records map[string]harvest.RobotsRecord
}

// NewRobotsCacheStore creates an empty robots cache.
func NewRobotsCacheStore() *RobotsCacheStore {
	return &RobotsCacheStore{records: make(map[string]harvest.RobotsRecord)}
}

// GetRobots returns the cached record for host, or ErrNotFound.
func (s *RobotsCacheStore) GetRobots(_ context.Context, host string) (harvest.RobotsRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	record, ok := s.records[strings.ToLower(host)]
	if !ok {
		return harvest.RobotsRecord{}, harvest.ErrNotFound
	}
	return record, nil
}

// PutRobots stores or replaces the record for its host.
func (s *RobotsCacheStore) PutRobots(_ context.Context, record harvest.RobotsRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	record.Host = strings.ToLower(record.Host)
	s.records[record.Host] = record
	return nil
}

// DomainPolicyStore serves per-host crawl policies from a static map.
type DomainPolicyStore struct {
	mu       sync.RWMutex
	policies map[string]harvest.DomainPolicy
}

// NewDomainPolicyStore creates a policy store seeded with the given policies.
func NewDomainPolicyStore(policies ...harvest.DomainPolicy) *DomainPolicyStore {
	s := &DomainPolicyStore{policies: make(map[string]harvest.DomainPolicy)}
	for _, p := range policies {
		s.policies[strings.ToLower(p.Host)] = p
	}
	return s
}

// GetPolicy returns the policy for host, or ErrNotFound.
func (s *DomainPolicyStore) GetPolicy(_ context.Context, host string) (harvest.DomainPolicy, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	policy, ok := s.policies[strings.ToLower(host)]
	if !ok {
		return harvest.DomainPolicy{}, harvest.ErrNotFound
	}
	return policy, nil
}

// PutPolicy stores or replaces a policy.
func (s *DomainPolicyStore) PutPolicy(policy harvest.DomainPolicy) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.policies[strings.ToLower(policy.Host)] = policy
}
