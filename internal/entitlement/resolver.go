// Package entitlement answers read-only questions about a tenant's current
// license state: feature access, seat counts, subscription status. Results
// may lag in-flight ledger transactions; callers use them for display and
// feature gating, never for mutation decisions.
package entitlement

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/authvital/authvital/internal/license"
)

// Reader supplies current subscription and license type state. The license
// ledger's stores implement it; no locking is taken on this path.
type Reader interface {
	// Subscriptions returns the tenant's pools, all applications when
	// applicationID is empty.
	Subscriptions(ctx context.Context, tenantID, applicationID string) ([]license.Subscription, error)
	LicenseType(ctx context.Context, id string) (license.LicenseType, error)
}

// FeatureResult reports whether any active subscription unlocks a feature.
type FeatureResult struct {
	HasAccess   bool                 `json:"has_access"`
	LicenseType *license.LicenseType `json:"license_type,omitempty"`
	Reason      string               `json:"reason,omitempty"`
}

// SeatBreakdown describes one subscription's seat usage.
type SeatBreakdown struct {
	SubscriptionID string `json:"subscription_id"`
	LicenseTypeID  string `json:"license_type_id"`
	Status         string `json:"status"`
	SeatsOwned     int    `json:"seats_owned"`
	SeatsAssigned  int    `json:"seats_assigned"`
	SeatsAvailable int    `json:"seats_available"`
}

// SeatsResult aggregates seat counts across a tenant's subscriptions.
type SeatsResult struct {
	SeatsOwned     int             `json:"seats_owned"`
	SeatsAssigned  int             `json:"seats_assigned"`
	SeatsAvailable int             `json:"seats_available"`
	Breakdown      []SeatBreakdown `json:"per_subscription_breakdown"`
}

// StatusResult reports subscription health for a tenant.
type StatusResult struct {
	HasActiveSubscription bool                   `json:"has_active_subscription"`
	Subscriptions         []license.Subscription `json:"subscriptions"`
}

// Resolver composes Reader queries into entitlement answers.
type Resolver struct {
	reader Reader
	now    func() time.Time
}

// ResolverOption configures Resolver behavior.
type ResolverOption func(*Resolver)

// WithClock overrides the time source (useful for tests).
func WithClock(fn func() time.Time) ResolverOption {
	return func(r *Resolver) {
		if fn != nil {
			r.now = fn
		}
	}
}

// NewResolver constructs a Resolver.
func NewResolver(reader Reader, opts ...ResolverOption) (*Resolver, error) {
	if reader == nil {
		return nil, errors.New("entitlement reader is required")
	}
	r := &Resolver{reader: reader, now: time.Now}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

// CheckFeature reports whether any active, non-expired subscription's
// license type enables the feature.
func (r *Resolver) CheckFeature(ctx context.Context, tenantID, feature, applicationID string) (FeatureResult, error) {
	tenantID = strings.TrimSpace(tenantID)
	feature = strings.TrimSpace(feature)
	if tenantID == "" || feature == "" {
		return FeatureResult{}, fmt.Errorf("%w: tenant_id and feature are required", license.ErrInvalidInput)
	}

	subs, err := r.reader.Subscriptions(ctx, tenantID, applicationID)
	if err != nil {
		return FeatureResult{}, err
	}
	now := r.now()
	sawActive := false
	for _, sub := range subs {
		if !sub.IsActive(now) {
			continue
		}
		sawActive = true
		lt, err := r.reader.LicenseType(ctx, sub.LicenseTypeID)
		if err != nil {
			if errors.Is(err, license.ErrNotFound) {
				continue
			}
			return FeatureResult{}, err
		}
		if lt.Features[feature] {
			return FeatureResult{HasAccess: true, LicenseType: &lt}, nil
		}
	}
	if !sawActive {
		return FeatureResult{Reason: "no active subscription"}, nil
	}
	return FeatureResult{Reason: "feature not included in any active license"}, nil
}

// CheckSeats aggregates seat usage across the tenant's subscriptions.
func (r *Resolver) CheckSeats(ctx context.Context, tenantID, applicationID string) (SeatsResult, error) {
	tenantID = strings.TrimSpace(tenantID)
	if tenantID == "" {
		return SeatsResult{}, fmt.Errorf("%w: tenant_id is required", license.ErrInvalidInput)
	}

	subs, err := r.reader.Subscriptions(ctx, tenantID, applicationID)
	if err != nil {
		return SeatsResult{}, err
	}
	result := SeatsResult{Breakdown: make([]SeatBreakdown, 0, len(subs))}
	for _, sub := range subs {
		result.SeatsOwned += sub.QuantityPurchased
		result.SeatsAssigned += sub.QuantityAssigned
		result.Breakdown = append(result.Breakdown, SeatBreakdown{
			SubscriptionID: sub.ID,
			LicenseTypeID:  sub.LicenseTypeID,
			Status:         sub.Status,
			SeatsOwned:     sub.QuantityPurchased,
			SeatsAssigned:  sub.QuantityAssigned,
			SeatsAvailable: sub.SeatsAvailable(),
		})
	}
	result.SeatsAvailable = result.SeatsOwned - result.SeatsAssigned
	return result, nil
}

// SubscriptionStatus reports whether the tenant has any active subscription
// and returns the current pools.
func (r *Resolver) SubscriptionStatus(ctx context.Context, tenantID, applicationID string) (StatusResult, error) {
	tenantID = strings.TrimSpace(tenantID)
	if tenantID == "" {
		return StatusResult{}, fmt.Errorf("%w: tenant_id is required", license.ErrInvalidInput)
	}

	subs, err := r.reader.Subscriptions(ctx, tenantID, applicationID)
	if err != nil {
		return StatusResult{}, err
	}
	result := StatusResult{Subscriptions: subs}
	now := r.now()
	for _, sub := range subs {
		if sub.IsActive(now) {
			result.HasActiveSubscription = true
			break
		}
	}
	return result, nil
}
