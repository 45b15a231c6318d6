// Package items holds the write-side operations on stored items shared by
// the CLI and the HTTP surface.
package items

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/AliedRevenue/family-concierge-sub000/core/domain"
	"github.com/AliedRevenue/family-concierge-sub000/pkg/apperr"
)

// Service exposes item reads and the dismissal transition.
type Service struct {
	items      domain.ItemRepository
	dismissals domain.DismissalRepository
	now        func() time.Time
}

// New creates an item service.
func New(items domain.ItemRepository, dismissals domain.DismissalRepository) *Service {
	return &Service{
		items:      items,
		dismissals: dismissals,
		now:        time.Now,
	}
}

// Get returns one item by id.
func (s *Service) Get(ctx context.Context, id string) (*domain.Item, error) {
	return s.items.GetByID(ctx, id)
}

// Dismiss records a rejection of an item. The reason is mandatory; a
// dismissal without one is rejected before anything is written. The dismissal
// row and its audit row commit together.
func (s *Service) Dismiss(ctx context.Context, itemID, reason, dismissedBy string) (*domain.DismissedItem, error) {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return nil, apperr.DataIntegrity("dismissal requires a reason")
	}

	item, err := s.items.GetByID(ctx, itemID)
	if err != nil {
		return nil, err
	}

	d := &domain.DismissedItem{
		ID:              uuid.NewString(),
		ItemID:          item.ID,
		ItemType:        item.ItemType,
		Reason:          reason,
		DismissedAt:     s.now().UTC(),
		DismissedBy:     dismissedBy,
		OriginalSubject: item.Subject,
		OriginalFrom:    item.FromEmail,
		OriginalDate:    item.CreatedAt,
		Person:          item.Person,
		PackID:          item.PackID,
	}
	audit := &domain.AuditLog{
		Level:  domain.AuditInfo,
		Module: "items",
		Action: "item_dismissed",
		Details: map[string]interface{}{
			"item_id": item.ID,
			"pack_id": item.PackID,
			"reason":  reason,
		},
	}
	if err := s.dismissals.InsertWithAudit(ctx, d, audit); err != nil {
		return nil, err
	}

	return d, nil
}
