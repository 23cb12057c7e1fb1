package quotation

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"rentloop-be/internal/db"
	"rentloop-be/internal/logger"
	"rentloop-be/internal/utils"

	"go.uber.org/zap"
)

type Repository interface {
	Create(ctx context.Context, q *Quotation) error
	Get(ctx context.Context, id string) (*Quotation, error)
	GetForUpdate(ctx context.Context, id string) (*Quotation, error)
	// GetOpenDraft returns the customer's most recent draft, or ErrQuotationNotFound.
	GetOpenDraft(ctx context.Context, customerID string) (*Quotation, error)
	// Update rewrites the header and replaces every line.
	Update(ctx context.Context, q *Quotation) error
	UpdateStatus(ctx context.Context, id string, status Status, confirmedOrderID *string, at time.Time) error
	Delete(ctx context.Context, id string) error
	ListStale(ctx context.Context, now time.Time, limit int) ([]string, error)
}

type repository struct {
	db *sql.DB
}

func NewRepository(db *sql.DB) Repository {
	return &repository{db: db}
}

const quotationColumns = `id, customer_id, vendor_id, status, rental_total, deposit_total,
	valid_until, confirmed_order_id, created_at, updated_at`

func (r *repository) Create(ctx context.Context, q *Quotation) error {
	log := logger.FromCtx(ctx).With(
		zap.String("layer", "repository"),
		zap.String("method", "Create"),
		zap.String("quotation_id", q.ID),
	)

	conn := db.Conn(ctx, r.db)
	_, err := conn.ExecContext(ctx, `
		INSERT INTO quotations (`+quotationColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`,
		q.ID, q.CustomerID, q.VendorID, q.Status, q.RentalTotal, q.DepositTotal,
		q.ValidUntil, q.ConfirmedOrderID, q.CreatedAt, q.UpdatedAt,
	)
	if err != nil {
		log.Error("failed to insert quotation", zap.Error(err))
		return fmt.Errorf("insert quotation: %w", err)
	}

	if err := insertLines(ctx, conn, q); err != nil {
		log.Error("failed to insert quotation lines", zap.Error(err))
		return err
	}
	return nil
}

func (r *repository) Get(ctx context.Context, id string) (*Quotation, error) {
	return r.get(ctx, `SELECT `+quotationColumns+` FROM quotations WHERE id = $1`, id)
}

func (r *repository) GetForUpdate(ctx context.Context, id string) (*Quotation, error) {
	return r.get(ctx, `SELECT `+quotationColumns+` FROM quotations WHERE id = $1 FOR UPDATE`, id)
}

func (r *repository) GetOpenDraft(ctx context.Context, customerID string) (*Quotation, error) {
	return r.get(ctx, `
		SELECT `+quotationColumns+`
		FROM quotations
		WHERE customer_id = $1 AND status = 'DRAFT'
		ORDER BY updated_at DESC
		LIMIT 1
		FOR UPDATE
	`, customerID)
}

func (r *repository) get(ctx context.Context, query string, arg string) (*Quotation, error) {
	conn := db.Conn(ctx, r.db)

	var q Quotation
	err := conn.QueryRowContext(ctx, query, arg).Scan(
		&q.ID,
		&q.CustomerID,
		&q.VendorID,
		&q.Status,
		&q.RentalTotal,
		&q.DepositTotal,
		&q.ValidUntil,
		&q.ConfirmedOrderID,
		&q.CreatedAt,
		&q.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrQuotationNotFound
		}
		logger.FromCtx(ctx).Error("failed to query quotation",
			zap.String("layer", "repository"),
			zap.String("arg", arg),
			zap.Error(err),
		)
		return nil, fmt.Errorf("get quotation: %w", err)
	}
	q.ValidUntil = q.ValidUntil.UTC()

	rows, err := conn.QueryContext(ctx, `
		SELECT product_id, variant_id, quantity, starts_at, ends_at,
		       duration_type, unit_price, subtotal, deposit_per_unit
		FROM quotation_lines
		WHERE quotation_id = $1
		ORDER BY position
	`, q.ID)
	if err != nil {
		return nil, fmt.Errorf("get quotation lines: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			l         Line
			variantID sql.NullString
		)
		if err := rows.Scan(
			&l.ProductID,
			&variantID,
			&l.Quantity,
			&l.Interval.Start,
			&l.Interval.End,
			&l.DurationType,
			&l.UnitPrice,
			&l.Subtotal,
			&l.DepositPerUnit,
		); err != nil {
			return nil, fmt.Errorf("scan quotation line: %w", err)
		}
		if variantID.Valid {
			l.VariantID = utils.StrPtr(variantID.String)
		}
		l.Interval.Start = l.Interval.Start.UTC()
		l.Interval.End = l.Interval.End.UTC()
		q.Lines = append(q.Lines, l)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate quotation lines: %w", err)
	}
	return &q, nil
}

func (r *repository) Update(ctx context.Context, q *Quotation) error {
	conn := db.Conn(ctx, r.db)

	res, err := conn.ExecContext(ctx, `
		UPDATE quotations
		SET vendor_id = $2, status = $3, rental_total = $4, deposit_total = $5,
		    valid_until = $6, updated_at = $7
		WHERE id = $1
	`, q.ID, q.VendorID, q.Status, q.RentalTotal, q.DepositTotal, q.ValidUntil, q.UpdatedAt)
	if err != nil {
		return fmt.Errorf("update quotation: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrQuotationNotFound
	}

	if _, err := conn.ExecContext(ctx, `DELETE FROM quotation_lines WHERE quotation_id = $1`, q.ID); err != nil {
		return fmt.Errorf("clear quotation lines: %w", err)
	}
	return insertLines(ctx, conn, q)
}

func (r *repository) UpdateStatus(ctx context.Context, id string, status Status, confirmedOrderID *string, at time.Time) error {
	res, err := db.Conn(ctx, r.db).ExecContext(ctx, `
		UPDATE quotations
		SET status = $2, confirmed_order_id = COALESCE($3, confirmed_order_id), updated_at = $4
		WHERE id = $1
	`, id, status, confirmedOrderID, at)
	if err != nil {
		return fmt.Errorf("update quotation status: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrQuotationNotFound
	}
	return nil
}

// Delete removes the quotation; its lines go with it through ON DELETE CASCADE.
func (r *repository) Delete(ctx context.Context, id string) error {
	res, err := db.Conn(ctx, r.db).ExecContext(ctx, `DELETE FROM quotations WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete quotation: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrQuotationNotFound
	}
	return nil
}

func (r *repository) ListStale(ctx context.Context, now time.Time, limit int) ([]string, error) {
	rows, err := db.Conn(ctx, r.db).QueryContext(ctx, `
		SELECT id FROM quotations
		WHERE status IN ('DRAFT', 'SENT') AND valid_until <= $1
		ORDER BY valid_until
		LIMIT $2
	`, now, limit)
	if err != nil {
		return nil, fmt.Errorf("list stale quotations: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan stale quotation: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func insertLines(ctx context.Context, conn db.Executor, q *Quotation) error {
	for i, l := range q.Lines {
		_, err := conn.ExecContext(ctx, `
			INSERT INTO quotation_lines (
				quotation_id, position, product_id, variant_id, quantity, starts_at, ends_at,
				duration_type, unit_price, subtotal, deposit_per_unit
			) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		`,
			q.ID, i, l.ProductID, l.VariantID, l.Quantity, l.Interval.Start, l.Interval.End,
			l.DurationType, l.UnitPrice, l.Subtotal, l.DepositPerUnit,
		)
		if err != nil {
			return fmt.Errorf("insert quotation line %d: %w", i, err)
		}
	}
	return nil
}
