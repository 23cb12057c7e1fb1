package invoice

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"rentloop-be/internal/db"
	"rentloop-be/internal/logger"

	"go.uber.org/zap"
)

type Repository interface {
	Create(ctx context.Context, inv *Invoice) error
	Get(ctx context.Context, id string) (*Invoice, error)
	GetByOrder(ctx context.Context, orderID string) (*Invoice, error)
	GetForUpdate(ctx context.Context, id string) (*Invoice, error)
	List(ctx context.Context, filter Filter) ([]*Invoice, error)
	// ApplyPayment increments the amount paid in place and returns the updated invoice.
	ApplyPayment(ctx context.Context, id string, amount int64, at time.Time) (*Invoice, error)
	AppendLine(ctx context.Context, id string, line Line, at time.Time) (*Invoice, error)
	Void(ctx context.Context, id string, at time.Time) (*Invoice, error)
}

type repository struct {
	db *sql.DB
}

func NewRepository(db *sql.DB) Repository {
	return &repository{db: db}
}

const invoiceColumns = `id, number, order_id, customer_id, vendor_id, subtotal, deposit_total,
	tax_rate_percent, tax_amount, late_fee_total, total_amount, amount_paid, amount_due,
	refund_due, status, created_at, updated_at`

func (r *repository) Create(ctx context.Context, inv *Invoice) error {
	conn := db.Conn(ctx, r.db)

	_, err := conn.ExecContext(ctx, `
		INSERT INTO invoices (`+invoiceColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)
	`,
		inv.ID, inv.Number, inv.OrderID, inv.CustomerID, inv.VendorID,
		inv.Subtotal, inv.DepositTotal, inv.TaxRatePercent, inv.TaxAmount,
		inv.LateFeeTotal, inv.TotalAmount, inv.AmountPaid, inv.AmountDue,
		inv.RefundDue, inv.Status, inv.CreatedAt, inv.UpdatedAt,
	)
	if err != nil {
		logger.FromCtx(ctx).Error("failed to insert invoice",
			zap.String("layer", "repository"),
			zap.String("order_id", inv.OrderID),
			zap.Error(err),
		)
		return fmt.Errorf("insert invoice: %w", err)
	}

	for i, l := range inv.Lines {
		if err := insertLine(ctx, conn, inv.ID, i, l); err != nil {
			return err
		}
	}
	return nil
}

func (r *repository) Get(ctx context.Context, id string) (*Invoice, error) {
	return r.get(ctx, `SELECT `+invoiceColumns+` FROM invoices WHERE id = $1`, id)
}

func (r *repository) GetByOrder(ctx context.Context, orderID string) (*Invoice, error) {
	return r.get(ctx, `SELECT `+invoiceColumns+` FROM invoices WHERE order_id = $1`, orderID)
}

func (r *repository) GetForUpdate(ctx context.Context, id string) (*Invoice, error) {
	return r.get(ctx, `SELECT `+invoiceColumns+` FROM invoices WHERE id = $1 FOR UPDATE`, id)
}

func (r *repository) get(ctx context.Context, query, arg string) (*Invoice, error) {
	conn := db.Conn(ctx, r.db)

	inv, err := scanInvoice(conn.QueryRowContext(ctx, query, arg))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrInvoiceNotFound
		}
		return nil, fmt.Errorf("get invoice: %w", err)
	}

	rows, err := conn.QueryContext(ctx, `
		SELECT kind, description, product_id, quantity, unit_amount, amount
		FROM invoice_lines
		WHERE invoice_id = $1
		ORDER BY position
	`, inv.ID)
	if err != nil {
		return nil, fmt.Errorf("get invoice lines: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var l Line
		if err := rows.Scan(&l.Kind, &l.Description, &l.ProductID, &l.Quantity, &l.UnitAmount, &l.Amount); err != nil {
			return nil, fmt.Errorf("scan invoice line: %w", err)
		}
		inv.Lines = append(inv.Lines, l)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate invoice lines: %w", err)
	}
	return inv, nil
}

func (r *repository) List(ctx context.Context, filter Filter) ([]*Invoice, error) {
	log := logger.FromCtx(ctx).With(
		zap.String("layer", "repository"),
		zap.String("method", "List"),
	)

	limit := filter.Limit
	if limit <= 0 || limit > 100 {
		limit = 20
	}

	query := `SELECT ` + invoiceColumns + ` FROM invoices WHERE 1=1`
	args := []any{}
	argIndex := 1

	if filter.CustomerID != "" {
		query += fmt.Sprintf(" AND customer_id = $%d", argIndex)
		args = append(args, filter.CustomerID)
		argIndex++
	}
	if filter.VendorID != "" {
		query += fmt.Sprintf(" AND vendor_id = $%d", argIndex)
		args = append(args, filter.VendorID)
		argIndex++
	}
	if filter.Status != "" {
		query += fmt.Sprintf(" AND status = $%d", argIndex)
		args = append(args, filter.Status)
		argIndex++
	}
	query += fmt.Sprintf(" ORDER BY created_at DESC LIMIT $%d OFFSET $%d", argIndex, argIndex+1)
	args = append(args, limit, max(filter.Offset, 0))

	rows, err := db.Conn(ctx, r.db).QueryContext(ctx, query, args...)
	if err != nil {
		log.Error("failed to query invoices", zap.Error(err))
		return nil, fmt.Errorf("list invoices: %w", err)
	}
	defer rows.Close()

	var invoices []*Invoice
	for rows.Next() {
		inv, err := scanInvoice(rows)
		if err != nil {
			log.Error("failed to scan invoice row", zap.Error(err))
			return nil, err
		}
		invoices = append(invoices, inv)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate invoices: %w", err)
	}

	log.Info("list invoices success", zap.Int("count", len(invoices)))
	return invoices, nil
}

func (r *repository) ApplyPayment(ctx context.Context, id string, amount int64, at time.Time) (*Invoice, error) {
	res, err := db.Conn(ctx, r.db).ExecContext(ctx, `
		UPDATE invoices SET
			amount_paid = amount_paid + $2,
			refund_due = CASE WHEN status = 'CANCELLED' THEN refund_due + $2 ELSE refund_due END,
			amount_due = CASE WHEN status = 'CANCELLED' THEN 0
			                  ELSE GREATEST(total_amount - amount_paid - $2, 0) END,
			status = CASE WHEN status = 'CANCELLED' THEN 'CANCELLED'
			              WHEN total_amount - amount_paid - $2 <= 0 THEN 'PAID'
			              ELSE 'PARTIALLY_PAID' END,
			updated_at = $3
		WHERE id = $1
	`, id, amount, at)
	if err != nil {
		logger.FromCtx(ctx).Error("failed to apply payment to invoice",
			zap.String("layer", "repository"),
			zap.String("invoice_id", id),
			zap.Error(err),
		)
		return nil, fmt.Errorf("apply payment: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil, ErrInvoiceNotFound
	}
	return r.Get(ctx, id)
}

func (r *repository) AppendLine(ctx context.Context, id string, line Line, at time.Time) (*Invoice, error) {
	inv, err := r.GetForUpdate(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := inv.AddLine(line, at); err != nil {
		return nil, err
	}

	conn := db.Conn(ctx, r.db)
	if err := insertLine(ctx, conn, inv.ID, len(inv.Lines)-1, line); err != nil {
		return nil, err
	}
	if err := saveTotals(ctx, conn, inv); err != nil {
		return nil, err
	}
	return inv, nil
}

func (r *repository) Void(ctx context.Context, id string, at time.Time) (*Invoice, error) {
	inv, err := r.GetForUpdate(ctx, id)
	if err != nil {
		return nil, err
	}
	if inv.Status == StatusCancelled {
		return inv, nil
	}
	inv.Void(at)
	if err := saveTotals(ctx, db.Conn(ctx, r.db), inv); err != nil {
		return nil, err
	}
	return inv, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanInvoice(row scanner) (*Invoice, error) {
	var inv Invoice
	if err := row.Scan(
		&inv.ID,
		&inv.Number,
		&inv.OrderID,
		&inv.CustomerID,
		&inv.VendorID,
		&inv.Subtotal,
		&inv.DepositTotal,
		&inv.TaxRatePercent,
		&inv.TaxAmount,
		&inv.LateFeeTotal,
		&inv.TotalAmount,
		&inv.AmountPaid,
		&inv.AmountDue,
		&inv.RefundDue,
		&inv.Status,
		&inv.CreatedAt,
		&inv.UpdatedAt,
	); err != nil {
		return nil, err
	}
	return &inv, nil
}

func insertLine(ctx context.Context, conn db.Executor, invoiceID string, position int, l Line) error {
	_, err := conn.ExecContext(ctx, `
		INSERT INTO invoice_lines (invoice_id, position, kind, description, product_id, quantity, unit_amount, amount)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, invoiceID, position, l.Kind, l.Description, l.ProductID, l.Quantity, l.UnitAmount, l.Amount)
	if err != nil {
		return fmt.Errorf("insert invoice line: %w", err)
	}
	return nil
}

func saveTotals(ctx context.Context, conn db.Executor, inv *Invoice) error {
	_, err := conn.ExecContext(ctx, `
		UPDATE invoices
		SET late_fee_total = $2, total_amount = $3, amount_due = $4, refund_due = $5,
		    status = $6, updated_at = $7
		WHERE id = $1
	`, inv.ID, inv.LateFeeTotal, inv.TotalAmount, inv.AmountDue, inv.RefundDue, inv.Status, inv.UpdatedAt)
	if err != nil {
		return fmt.Errorf("update invoice totals: %w", err)
	}
	return nil
}
