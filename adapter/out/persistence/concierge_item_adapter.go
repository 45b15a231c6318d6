package persistence

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/AliedRevenue/family-concierge-sub000/core/domain"
	"github.com/AliedRevenue/family-concierge-sub000/pkg/apperr"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
)

// =============================================================================
// Item Adapter
// =============================================================================

// ItemAdapter implements domain.ItemRepository.
type ItemAdapter struct {
	db *sqlx.DB
}

// NewItemAdapter creates a new ItemAdapter.
func NewItemAdapter(db *sqlx.DB) *ItemAdapter {
	return &ItemAdapter{db: db}
}

// itemRow represents the database row.
type itemRow struct {
	ID                  string          `db:"id"`
	MessageID           string          `db:"message_id"`
	PackID              string          `db:"pack_id"`
	Subject             string          `db:"subject"`
	FromName            string          `db:"from_name"`
	FromEmail           string          `db:"from_email"`
	Snippet             string          `db:"snippet"`
	BodyText            string          `db:"email_body_text"`
	BodyHTML            string          `db:"email_body_html"`
	RelevanceScore      float64         `db:"relevance_score"`
	PrimaryCategory     string          `db:"primary_category"`
	SecondaryCategories pq.StringArray  `db:"secondary_categories"`
	CategoryScores      []byte          `db:"category_scores"`
	SaveReasons         pq.StringArray  `db:"save_reasons"`
	Person              string          `db:"person"`
	AssignmentReason    string          `db:"assignment_reason"`
	ItemType            string          `db:"item_type"`
	ObligationDate      sql.NullTime    `db:"obligation_date"`
	ClassConfidence     sql.NullFloat64 `db:"classification_confidence"`
	ClassReasoning      sql.NullString  `db:"classification_reasoning"`
	ClassifiedAt        sql.NullTime    `db:"classified_at"`
	Approved            bool            `db:"approved"`
	ApprovedAt          sql.NullTime    `db:"approved_at"`
	CreatedAt           time.Time       `db:"created_at"`
}

func (r *itemRow) toEntity() (*domain.Item, error) {
	item := &domain.Item{
		ID:               r.ID,
		MessageID:        r.MessageID,
		PackID:           r.PackID,
		Subject:          r.Subject,
		FromName:         r.FromName,
		FromEmail:        r.FromEmail,
		Snippet:          r.Snippet,
		BodyText:         r.BodyText,
		BodyHTML:         r.BodyHTML,
		RelevanceScore:   r.RelevanceScore,
		PrimaryCategory:  domain.Category(r.PrimaryCategory),
		SaveReasons:      []string(r.SaveReasons),
		Person:           r.Person,
		AssignmentReason: domain.AssignmentReason(r.AssignmentReason),
		ItemType:         domain.ItemType(r.ItemType),
		Approved:         r.Approved,
		CreatedAt:        r.CreatedAt,
	}
	for _, c := range r.SecondaryCategories {
		item.SecondaryCategories = append(item.SecondaryCategories, domain.Category(c))
	}
	if len(r.CategoryScores) > 0 {
		if err := json.Unmarshal(r.CategoryScores, &item.CategoryScores); err != nil {
			return nil, fmt.Errorf("failed to decode category scores: %w", err)
		}
	}
	if r.ObligationDate.Valid {
		item.ObligationDate = &r.ObligationDate.Time
	}
	if r.ClassConfidence.Valid {
		item.ClassificationConfidence = &r.ClassConfidence.Float64
	}
	if r.ClassReasoning.Valid {
		item.ClassificationReasoning = &r.ClassReasoning.String
	}
	if r.ClassifiedAt.Valid {
		item.ClassifiedAt = &r.ClassifiedAt.Time
	}
	if r.ApprovedAt.Valid {
		item.ApprovedAt = &r.ApprovedAt.Time
	}
	return item, nil
}

const insertItemSQL = `
	INSERT INTO items (
		id, message_id, pack_id, subject, from_name, from_email, snippet,
		email_body_text, email_body_html, relevance_score, primary_category,
		secondary_categories, category_scores, save_reasons, person,
		assignment_reason, item_type, obligation_date, classification_confidence,
		classification_reasoning, classified_at, approved, approved_at, created_at
	) VALUES (
		$1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15,
		$16, $17, $18, $19, $20, $21, $22, $23, $24
	)
	ON CONFLICT (message_id) DO NOTHING`

func itemArgs(item *domain.Item) ([]interface{}, error) {
	secondaries := make([]string, len(item.SecondaryCategories))
	for i, c := range item.SecondaryCategories {
		secondaries[i] = string(c)
	}
	scores, err := json.Marshal(item.CategoryScores)
	if err != nil {
		return nil, fmt.Errorf("failed to encode category scores: %w", err)
	}
	return []interface{}{
		item.ID, item.MessageID, item.PackID, item.Subject, item.FromName,
		item.FromEmail, item.Snippet, item.BodyText, item.BodyHTML,
		item.RelevanceScore, string(item.PrimaryCategory), pq.Array(secondaries),
		scores, pq.Array(item.SaveReasons), item.Person,
		string(item.AssignmentReason), string(item.ItemType),
		nullTime(item.ObligationDate), nullFloat(item.ClassificationConfidence),
		nullString(item.ClassificationReasoning), nullTime(item.ClassifiedAt),
		item.Approved, nullTime(item.ApprovedAt), item.CreatedAt,
	}, nil
}

// Insert writes an item row. A repeat on the same message id is a no-op.
func (a *ItemAdapter) Insert(ctx context.Context, item *domain.Item) error {
	if item.ID == "" {
		item.ID = uuid.NewString()
	}
	args, err := itemArgs(item)
	if err != nil {
		return err
	}
	if _, err := a.db.ExecContext(ctx, insertItemSQL, args...); err != nil {
		return fmt.Errorf("failed to insert item: %w", err)
	}
	return nil
}

// Update rewrites the classification and approval fields of an item.
func (a *ItemAdapter) Update(ctx context.Context, item *domain.Item) error {
	query := `
		UPDATE items
		SET item_type = $2, obligation_date = $3, classification_confidence = $4,
			classification_reasoning = $5, classified_at = $6, approved = $7, approved_at = $8
		WHERE id = $1`

	result, err := a.db.ExecContext(ctx, query,
		item.ID, string(item.ItemType), nullTime(item.ObligationDate),
		nullFloat(item.ClassificationConfidence), nullString(item.ClassificationReasoning),
		nullTime(item.ClassifiedAt), item.Approved, nullTime(item.ApprovedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to update item: %w", err)
	}

	rows, _ := result.RowsAffected()
	if rows == 0 {
		return fmt.Errorf("%w: item %s", ErrNotFound, item.ID)
	}
	return nil
}

// GetByID retrieves an item by id.
func (a *ItemAdapter) GetByID(ctx context.Context, id string) (*domain.Item, error) {
	var row itemRow
	query := `SELECT * FROM items WHERE id = $1`

	if err := a.db.GetContext(ctx, &row, query, id); err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("%w: item %s", ErrNotFound, id)
		}
		return nil, fmt.Errorf("failed to get item: %w", err)
	}

	return row.toEntity()
}

// ListPending retrieves unapproved items, newest first. Empty packID lists
// across all packs.
func (a *ItemAdapter) ListPending(ctx context.Context, packID string) ([]*domain.Item, error) {
	var rows []itemRow
	query := `SELECT * FROM items WHERE approved = FALSE AND ($1 = '' OR pack_id = $1) ORDER BY created_at DESC`

	if err := a.db.SelectContext(ctx, &rows, query, packID); err != nil {
		return nil, fmt.Errorf("failed to list pending items: %w", err)
	}

	return rowsToItems(rows)
}

// CreateWithMessage writes the processed message, the optional item, and the
// audit row in one transaction. This is the discovery engine's single write
// path; the item row requires the processed message row, enforced here. A
// message already recorded by another writer is a no-op success.
func (a *ItemAdapter) CreateWithMessage(ctx context.Context, pm *domain.ProcessedMessage, item *domain.Item, audit *domain.AuditLog) error {
	if pm == nil || pm.MessageID == "" {
		return apperr.DataIntegrity("item write requires a processed message")
	}
	if item != nil && item.MessageID != pm.MessageID {
		return apperr.DataIntegrity("item message id does not match processed message")
	}
	if audit == nil {
		return apperr.DataIntegrity("state transition requires an audit row")
	}

	tx, err := a.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, insertProcessedMessageSQL,
		pm.MessageID, pm.ProcessedAt, pm.PackID, string(pm.Status),
		pm.EventsExtracted, pq.Array(pm.Fingerprints), nullString(pm.Error),
	)
	if err != nil {
		return fmt.Errorf("failed to insert processed message: %w", err)
	}

	// Zero rows means a concurrent writer already recorded this message and
	// its item and audit row; writing ours would double them.
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return tx.Commit()
	}

	if item != nil {
		if item.ID == "" {
			item.ID = uuid.NewString()
		}
		args, err := itemArgs(item)
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, insertItemSQL, args...); err != nil {
			return fmt.Errorf("failed to insert item: %w", err)
		}
	}

	if err := insertAuditTx(ctx, tx, audit); err != nil {
		return err
	}

	return tx.Commit()
}

func rowsToItems(rows []itemRow) ([]*domain.Item, error) {
	items := make([]*domain.Item, len(rows))
	for i := range rows {
		item, err := rows[i].toEntity()
		if err != nil {
			return nil, err
		}
		items[i] = item
	}
	return items, nil
}
