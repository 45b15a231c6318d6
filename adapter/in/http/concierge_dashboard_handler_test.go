package http

import (
	"context"
	"fmt"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AliedRevenue/family-concierge-sub000/adapter/out/persistence"
	"github.com/AliedRevenue/family-concierge-sub000/core/domain"
	"github.com/AliedRevenue/family-concierge-sub000/core/service/items"
)

// missingItems answers every lookup with the store's not-found sentinel.
type missingItems struct{}

func (missingItems) Insert(context.Context, *domain.Item) error { return nil }
func (missingItems) Update(context.Context, *domain.Item) error { return nil }
func (missingItems) GetByID(_ context.Context, id string) (*domain.Item, error) {
	return nil, fmt.Errorf("%w: item %s", persistence.ErrNotFound, id)
}
func (missingItems) ListPending(context.Context, string) ([]*domain.Item, error) {
	return nil, nil
}
func (missingItems) CreateWithMessage(context.Context, *domain.ProcessedMessage, *domain.Item, *domain.AuditLog) error {
	return nil
}

type noopDismissals struct{}

func (noopDismissals) Insert(context.Context, *domain.DismissedItem) error { return nil }
func (noopDismissals) InsertWithAudit(context.Context, *domain.DismissedItem, *domain.AuditLog) error {
	return nil
}
func (noopDismissals) IsDismissed(context.Context, string) (bool, error) { return false, nil }
func (noopDismissals) List(context.Context, time.Time, time.Time, string) ([]*domain.DismissedItem, error) {
	return nil, nil
}

func TestGetItemUnknownIDReturns404(t *testing.T) {
	app := fiber.New()
	h := NewDashboardHandler(nil, items.New(missingItems{}, noopDismissals{}))
	h.Register(app)

	req := httptest.NewRequest("GET", "/api/items/nope", nil)
	resp, err := app.Test(req)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusNotFound, resp.StatusCode)
}
