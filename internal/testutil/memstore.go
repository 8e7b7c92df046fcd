package testutil

import (
	"context"
	"sync"
	"time"

	"github.com/macromini/macromini/internal/model"
	"github.com/macromini/macromini/internal/repository"
)

// MemoryStore is an in-memory profile store with the same conditional-write
// semantics as repository.Repository. Safe for concurrent use.
type MemoryStore struct {
	mu       sync.Mutex
	profiles map[string]*model.Profile

	// Err, when set, is returned by every operation.
	Err error

	// Writes counts successful mutating calls.
	Writes int
}

// NewMemoryStore returns a store seeded with clones of profiles.
func NewMemoryStore(profiles ...*model.Profile) *MemoryStore {
	s := &MemoryStore{profiles: make(map[string]*model.Profile)}
	for _, p := range profiles {
		s.profiles[p.ID] = p.Clone()
	}
	return s
}

// Profile returns a copy of the stored profile, or nil.
func (s *MemoryStore) Profile(id string) *model.Profile {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.profiles[id]
	if !ok {
		return nil
	}
	return p.Clone()
}

// Put replaces or inserts a profile.
func (s *MemoryStore) Put(p *model.Profile) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.profiles[p.ID] = p.Clone()
}

func (s *MemoryStore) CreateProfile(_ context.Context, p *model.Profile) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return s.Err
	}
	if _, ok := s.profiles[p.ID]; ok {
		return repository.ErrProfileExists
	}
	s.profiles[p.ID] = p.Clone()
	s.Writes++
	return nil
}

func (s *MemoryStore) GetProfile(_ context.Context, id string) (*model.Profile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return nil, s.Err
	}
	p, ok := s.profiles[id]
	if !ok {
		return nil, repository.ErrProfileNotFound
	}
	return p.Clone(), nil
}

func (s *MemoryStore) GetProfileByStripeCustomerID(_ context.Context, customerID string) (*model.Profile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return nil, s.Err
	}
	for _, p := range s.profiles {
		if p.CustomerID() == customerID {
			return p.Clone(), nil
		}
	}
	return nil, repository.ErrProfileNotFound
}

func (s *MemoryStore) ResetUsagePeriod(_ context.Context, id string, observedResetAt, newResetAt time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return false, s.Err
	}
	p, ok := s.profiles[id]
	if !ok || !p.AnalysesResetAt.Equal(observedResetAt) {
		return false, nil
	}
	p.AnalysesCount = 0
	p.AnalysesResetAt = newResetAt
	s.Writes++
	return true, nil
}

func (s *MemoryStore) IncrementAnalysesCount(_ context.Context, id string, freeLimit int) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return 0, s.Err
	}
	p, ok := s.profiles[id]
	if !ok {
		return 0, repository.ErrProfileNotFound
	}
	if !p.IsPro() && p.AnalysesCount >= freeLimit {
		return 0, repository.ErrCountLimitReached
	}
	p.AnalysesCount++
	s.Writes++
	return p.AnalysesCount, nil
}

func (s *MemoryStore) SetStripeCustomerID(_ context.Context, id, customerID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return false, s.Err
	}
	p, ok := s.profiles[id]
	if !ok {
		return false, repository.ErrProfileNotFound
	}
	if p.StripeCustomerID != nil {
		return false, nil
	}
	p.StripeCustomerID = &customerID
	s.Writes++
	return true, nil
}

func (s *MemoryStore) ActivateSubscription(_ context.Context, id, subscriptionID string, periodEnd *time.Time) error {
	return s.update(id, func(p *model.Profile) {
		p.SubscriptionTier = model.TierPro
		p.SubscriptionStatus = model.StatusActive
		p.StripeSubscriptionID = nil
		if subscriptionID != "" {
			p.StripeSubscriptionID = &subscriptionID
		}
		p.SubscriptionCurrentPeriodEnd = copyTime(periodEnd)
	})
}

func (s *MemoryStore) UpdateSubscription(_ context.Context, id string, status *model.SubscriptionStatus, periodEnd *time.Time) error {
	return s.update(id, func(p *model.Profile) {
		if status != nil {
			p.SubscriptionStatus = *status
		}
		if periodEnd != nil {
			p.SubscriptionCurrentPeriodEnd = copyTime(periodEnd)
		}
	})
}

func (s *MemoryStore) CancelSubscription(_ context.Context, id string) error {
	return s.update(id, func(p *model.Profile) {
		p.SubscriptionTier = model.TierFree
		p.SubscriptionStatus = model.StatusCancelled
		p.StripeSubscriptionID = nil
		p.SubscriptionCurrentPeriodEnd = nil
	})
}

func (s *MemoryStore) MarkPastDue(_ context.Context, id string) error {
	return s.update(id, func(p *model.Profile) {
		p.SubscriptionStatus = model.StatusPastDue
	})
}

func (s *MemoryStore) update(id string, fn func(p *model.Profile)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return s.Err
	}
	p, ok := s.profiles[id]
	if !ok {
		return repository.ErrProfileNotFound
	}
	fn(p)
	s.Writes++
	return nil
}

func copyTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}
