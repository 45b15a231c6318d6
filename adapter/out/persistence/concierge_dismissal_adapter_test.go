package persistence

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AliedRevenue/family-concierge-sub000/core/domain"
	"github.com/AliedRevenue/family-concierge-sub000/pkg/apperr"
)

func sampleDismissal() *domain.DismissedItem {
	return &domain.DismissedItem{
		ItemID:          "item-1",
		ItemType:        domain.ItemObligation,
		Reason:          "wrong kid",
		DismissedBy:     "dana",
		OriginalSubject: "Permission slip",
		OriginalFrom:    "office@lincolnelementary.org",
		OriginalDate:    time.Date(2026, 3, 9, 8, 0, 0, 0, time.UTC),
		Person:          "Maya",
		PackID:          "school",
	}
}

func TestDismissalInsertWithAuditTransaction(t *testing.T) {
	db, mock := newMockDB(t)
	adapter := NewDismissalAdapter(db)

	audit := &domain.AuditLog{
		Level:  domain.AuditInfo,
		Module: "items",
		Action: "item_dismissed",
	}

	mock.ExpectBegin()
	mock.ExpectExec(`INSERT INTO dismissed_items`).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`INSERT INTO audit_log`).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	require.NoError(t, adapter.InsertWithAudit(context.Background(), sampleDismissal(), audit))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestDismissalInsertWithAuditRollsBackOnAuditFailure(t *testing.T) {
	db, mock := newMockDB(t)
	adapter := NewDismissalAdapter(db)

	audit := &domain.AuditLog{Level: domain.AuditInfo, Module: "items", Action: "item_dismissed"}

	mock.ExpectBegin()
	mock.ExpectExec(`INSERT INTO dismissed_items`).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`INSERT INTO audit_log`).WillReturnError(errors.New("disk full"))
	mock.ExpectRollback()

	err := adapter.InsertWithAudit(context.Background(), sampleDismissal(), audit)
	require.Error(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestDismissalInsertWithAuditGuards(t *testing.T) {
	db, _ := newMockDB(t)
	adapter := NewDismissalAdapter(db)
	ctx := context.Background()

	err := adapter.InsertWithAudit(ctx, sampleDismissal(), nil)
	assert.True(t, apperr.IsDataIntegrity(err), "missing audit row: %v", err)

	reasonless := sampleDismissal()
	reasonless.Reason = "  "
	err = adapter.InsertWithAudit(ctx, reasonless, &domain.AuditLog{Action: "item_dismissed"})
	assert.True(t, apperr.IsDataIntegrity(err), "blank reason: %v", err)
}
