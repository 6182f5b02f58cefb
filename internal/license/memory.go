package license

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/authvital/authvital/internal/ids"
	"github.com/authvital/authvital/internal/obs"
)

// InMemory implements Service with in-process concurrency safety: the single
// mutex serializes mutations the way row locks do in the Postgres store.
// Used by tests and local development.
type InMemory struct {
	mu           sync.RWMutex
	subs         map[string]*Subscription // by subscription id
	assignments  map[string]*Assignment   // by user/tenant/application key
	licenseTypes map[string]LicenseType   // by license type id
	audit        []AuditEntry
	sink         EventSink
	now          func() time.Time
}

var _ Service = (*InMemory)(nil)

// NewInMemory creates an empty ledger.
func NewInMemory(opts ...InMemoryOption) *InMemory {
	s := &InMemory{
		subs:         make(map[string]*Subscription),
		assignments:  make(map[string]*Assignment),
		licenseTypes: make(map[string]LicenseType),
		sink:         NopSink{},
		now:          time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// InMemoryOption configures the in-memory ledger.
type InMemoryOption func(*InMemory)

// WithSink routes committed ledger events to the given sink.
func WithSink(sink EventSink) InMemoryOption {
	return func(s *InMemory) {
		if sink != nil {
			s.sink = sink
		}
	}
}

// WithClock overrides the time source (useful for tests).
func WithClock(fn func() time.Time) InMemoryOption {
	return func(s *InMemory) {
		if fn != nil {
			s.now = fn
		}
	}
}

// AddLicenseType registers a license type definition.
func (s *InMemory) AddLicenseType(lt LicenseType) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if lt.ID == "" {
		lt.ID = ids.New()
	}
	s.licenseTypes[lt.ID] = lt
}

// AddSubscription registers a seat pool and returns its id.
func (s *InMemory) AddSubscription(sub Subscription) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if sub.ID == "" {
		sub.ID = ids.New()
	}
	if sub.CreatedAt.IsZero() {
		sub.CreatedAt = s.now().UTC()
	}
	s.subs[sub.ID] = &sub
	return sub.ID
}

func (s *InMemory) Grant(ctx context.Context, params GrantParams) (Assignment, error) {
	if err := params.Validate(); err != nil {
		obs.ObserveSeatOperation("grant", "invalid")
		return Assignment{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	key := assignmentKey(params.UserID, params.TenantID, params.ApplicationID)
	if _, exists := s.assignments[key]; exists {
		obs.ObserveSeatOperation("grant", "already_assigned")
		return Assignment{}, ErrAlreadyAssigned
	}

	sub := s.findSubscription(params.TenantID, params.ApplicationID, params.LicenseTypeID)
	if sub == nil {
		obs.ObserveSeatOperation("grant", "not_found")
		return Assignment{}, ErrNotFound
	}
	if sub.QuantityAssigned >= sub.QuantityPurchased {
		obs.ObserveSeatOperation("grant", "no_seats")
		return Assignment{}, ErrNoSeatsAvailable
	}

	sub.QuantityAssigned++
	assignment := Assignment{
		ID:             ids.New(),
		UserID:         params.UserID,
		TenantID:       params.TenantID,
		ApplicationID:  params.ApplicationID,
		LicenseTypeID:  params.LicenseTypeID,
		SubscriptionID: sub.ID,
		AssignedAt:     s.now().UTC(),
	}
	s.assignments[key] = &assignment
	entry := s.appendAudit(AuditEntry{
		TenantID:      params.TenantID,
		UserID:        params.UserID,
		ApplicationID: params.ApplicationID,
		LicenseTypeID: params.LicenseTypeID,
		Action:        ActionGranted,
		PerformedBy:   params.PerformedBy,
		Reason:        params.Reason,
	})

	obs.ObserveSeatOperation("grant", "ok")
	s.emit(entry)
	return assignment, nil
}

func (s *InMemory) Revoke(ctx context.Context, params RevokeParams) error {
	if err := params.Validate(); err != nil {
		obs.ObserveSeatOperation("revoke", "invalid")
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	key := assignmentKey(params.UserID, params.TenantID, params.ApplicationID)
	assignment, exists := s.assignments[key]
	if !exists {
		obs.ObserveSeatOperation("revoke", "not_assigned")
		return ErrNotAssigned
	}

	sub, ok := s.subs[assignment.SubscriptionID]
	if !ok {
		obs.ObserveSeatOperation("revoke", "not_found")
		return ErrNotFound
	}
	if sub.QuantityAssigned <= 0 {
		obs.ObserveSeatOperation("revoke", "invariant")
		return ErrInvariantViolation
	}

	sub.QuantityAssigned--
	delete(s.assignments, key)
	entry := s.appendAudit(AuditEntry{
		TenantID:      params.TenantID,
		UserID:        params.UserID,
		ApplicationID: params.ApplicationID,
		LicenseTypeID: assignment.LicenseTypeID,
		Action:        ActionRevoked,
		PerformedBy:   params.PerformedBy,
		Reason:        params.Reason,
	})

	obs.ObserveSeatOperation("revoke", "ok")
	s.emit(entry)
	return nil
}

func (s *InMemory) ChangeType(ctx context.Context, params ChangeParams) (Assignment, error) {
	if err := params.Validate(); err != nil {
		obs.ObserveSeatOperation("change", "invalid")
		return Assignment{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	key := assignmentKey(params.UserID, params.TenantID, params.ApplicationID)
	assignment, exists := s.assignments[key]
	if !exists {
		obs.ObserveSeatOperation("change", "not_assigned")
		return Assignment{}, ErrNotAssigned
	}
	if assignment.LicenseTypeID == params.NewLicenseTypeID {
		obs.ObserveSeatOperation("change", "already_assigned")
		return Assignment{}, ErrAlreadyAssigned
	}

	oldSub, ok := s.subs[assignment.SubscriptionID]
	if !ok {
		obs.ObserveSeatOperation("change", "not_found")
		return Assignment{}, ErrNotFound
	}
	newSub := s.findSubscription(params.TenantID, params.ApplicationID, params.NewLicenseTypeID)
	if newSub == nil {
		obs.ObserveSeatOperation("change", "not_found")
		return Assignment{}, ErrNotFound
	}
	if newSub.QuantityAssigned >= newSub.QuantityPurchased {
		obs.ObserveSeatOperation("change", "no_seats")
		return Assignment{}, ErrNoSeatsAvailable
	}
	if oldSub.QuantityAssigned <= 0 {
		obs.ObserveSeatOperation("change", "invariant")
		return Assignment{}, ErrInvariantViolation
	}

	previousType := assignment.LicenseTypeID
	oldSub.QuantityAssigned--
	newSub.QuantityAssigned++
	assignment.LicenseTypeID = params.NewLicenseTypeID
	assignment.SubscriptionID = newSub.ID
	entry := s.appendAudit(AuditEntry{
		TenantID:              params.TenantID,
		UserID:                params.UserID,
		ApplicationID:         params.ApplicationID,
		LicenseTypeID:         params.NewLicenseTypeID,
		Action:                ActionChanged,
		PreviousLicenseTypeID: previousType,
		PerformedBy:           params.PerformedBy,
		Reason:                params.Reason,
	})

	obs.ObserveSeatOperation("change", "ok")
	s.emit(entry)
	return *assignment, nil
}

// Subscriptions returns the current pools for a tenant, optionally filtered
// by application. Read-side only; no locking guarantees beyond a snapshot.
func (s *InMemory) Subscriptions(ctx context.Context, tenantID, applicationID string) ([]Subscription, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []Subscription
	for _, sub := range s.subs {
		if sub.TenantID != tenantID {
			continue
		}
		if applicationID != "" && sub.ApplicationID != applicationID {
			continue
		}
		out = append(out, *sub)
	}
	return out, nil
}

// LicenseType returns a registered license type definition.
func (s *InMemory) LicenseType(ctx context.Context, id string) (LicenseType, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	lt, ok := s.licenseTypes[id]
	if !ok {
		return LicenseType{}, ErrNotFound
	}
	return lt, nil
}

// FindAssignment returns the user's current assignment, if any.
func (s *InMemory) FindAssignment(ctx context.Context, tenantID, userID, applicationID string) (Assignment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.assignments[assignmentKey(userID, tenantID, applicationID)]
	if !ok {
		return Assignment{}, ErrNotAssigned
	}
	return *a, nil
}

// AuditTrail returns a copy of the append-only audit log.
func (s *InMemory) AuditTrail() []AuditEntry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]AuditEntry, len(s.audit))
	copy(out, s.audit)
	return out
}

// findSubscription locates the pool for (tenant, application, license type).
// Callers hold s.mu.
func (s *InMemory) findSubscription(tenantID, applicationID, licenseTypeID string) *Subscription {
	for _, sub := range s.subs {
		if sub.TenantID == tenantID && sub.ApplicationID == applicationID && sub.LicenseTypeID == licenseTypeID {
			return sub
		}
	}
	return nil
}

// appendAudit records the entry. Callers hold s.mu.
func (s *InMemory) appendAudit(entry AuditEntry) AuditEntry {
	entry.ID = ids.New()
	entry.PerformedAt = s.now().UTC()
	s.audit = append(s.audit, entry)
	return entry
}

func (s *InMemory) emit(entry AuditEntry) {
	s.sink.Emit("license."+strings.ToLower(entry.Action), map[string]any{
		"tenant_id":       entry.TenantID,
		"user_id":         entry.UserID,
		"application_id":  entry.ApplicationID,
		"license_type_id": entry.LicenseTypeID,
		"performed_by":    entry.PerformedBy,
	})
}

func assignmentKey(userID, tenantID, applicationID string) string {
	return userID + "/" + tenantID + "/" + applicationID
}
