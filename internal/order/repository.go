package order

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
	// Create fails with ErrOrderExists when the quotation already has an order.
	Create(ctx context.Context, o *Order) error
	Get(ctx context.Context, id string) (*Order, error)
	GetForUpdate(ctx context.Context, id string) (*Order, error)
	GetByQuotation(ctx context.Context, quotationID string) (*Order, error)
	// SaveTransition persists the mutable order columns and appends entry to history.
	SaveTransition(ctx context.Context, o *Order, entry StatusEntry) error
	UpdatePayment(ctx context.Context, id string, amountPaid int64, status PaymentStatus, at time.Time) error
	List(ctx context.Context, filter Filter) ([]*Order, error)
}

type repository struct {
	db *sql.DB
}

func NewRepository(db *sql.DB) Repository {
	return &repository{db: db}
}

const orderColumns = `id, quotation_id, customer_id, vendor_id, status, payment_status,
	rental_total, deposit_total, tax_rate_percent, tax_amount, grand_total, late_fee,
	amount_paid, rental_start, rental_end, actual_return, condition_notes, cancel_reason,
	created_at, updated_at`

func (r *repository) Create(ctx context.Context, o *Order) error {
	log := logger.FromCtx(ctx).With(
		zap.String("layer", "repository"),
		zap.String("method", "Create"),
		zap.String("order_id", o.ID),
		zap.String("quotation_id", o.QuotationID),
	)

	conn := db.Conn(ctx, r.db)
	_, err := conn.ExecContext(ctx, `
		INSERT INTO orders (`+orderColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20)
	`,
		o.ID, o.QuotationID, o.CustomerID, o.VendorID, o.Status, o.PaymentStatus,
		o.Pricing.RentalTotal, o.Pricing.DepositTotal, o.Pricing.TaxRatePercent,
		o.Pricing.TaxAmount, o.Pricing.GrandTotal, o.Pricing.LateFee,
		o.AmountPaid, o.RentalStart, o.RentalEnd, o.ActualReturn, o.ConditionNotes,
		o.CancelReason, o.CreatedAt, o.UpdatedAt,
	)
	if err != nil {
		if db.IsUniqueViolation(err) {
			log.Warn("order already exists for quotation")
			return ErrOrderExists
		}
		log.Error("failed to insert order", zap.Error(err))
		return fmt.Errorf("insert order: %w", err)
	}

	for i, l := range o.Lines {
		_, err := conn.ExecContext(ctx, `
			INSERT INTO order_lines (
				order_id, position, product_id, variant_id, quantity, starts_at, ends_at,
				duration_type, unit_price, subtotal, deposit_per_unit
			) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		`,
			o.ID, i, l.ProductID, l.VariantID, l.Quantity, l.Interval.Start, l.Interval.End,
			l.DurationType, l.UnitPrice, l.Subtotal, l.DepositPerUnit,
		)
		if err != nil {
			log.Error("failed to insert order line", zap.Int("position", i), zap.Error(err))
			return fmt.Errorf("insert order line: %w", err)
		}
	}

	for _, h := range o.History {
		if err := insertHistory(ctx, conn, o.ID, h); err != nil {
			return err
		}
	}

	log.Info("order created")
	return nil
}

func (r *repository) Get(ctx context.Context, id string) (*Order, error) {
	return r.get(ctx, `SELECT `+orderColumns+` FROM orders WHERE id = $1`, id)
}

func (r *repository) GetForUpdate(ctx context.Context, id string) (*Order, error) {
	return r.get(ctx, `SELECT `+orderColumns+` FROM orders WHERE id = $1 FOR UPDATE`, id)
}

func (r *repository) GetByQuotation(ctx context.Context, quotationID string) (*Order, error) {
	return r.get(ctx, `SELECT `+orderColumns+` FROM orders WHERE quotation_id = $1`, quotationID)
}

func (r *repository) get(ctx context.Context, query, arg string) (*Order, error) {
	conn := db.Conn(ctx, r.db)

	o, err := scanOrder(conn.QueryRowContext(ctx, query, arg))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrOrderNotFound
		}
		return nil, fmt.Errorf("get order: %w", err)
	}

	if err := r.loadDetails(ctx, conn, o); err != nil {
		return nil, err
	}
	return o, nil
}

func (r *repository) loadDetails(ctx context.Context, conn db.Executor, o *Order) error {
	rows, err := conn.QueryContext(ctx, `
		SELECT product_id, variant_id, quantity, starts_at, ends_at,
		       duration_type, unit_price, subtotal, deposit_per_unit
		FROM order_lines
		WHERE order_id = $1
		ORDER BY position
	`, o.ID)
	if err != nil {
		return fmt.Errorf("get order lines: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var l OrderLine
		if err := rows.Scan(
			&l.ProductID,
			&l.VariantID,
			&l.Quantity,
			&l.Interval.Start,
			&l.Interval.End,
			&l.DurationType,
			&l.UnitPrice,
			&l.Subtotal,
			&l.DepositPerUnit,
		); err != nil {
			return fmt.Errorf("scan order line: %w", err)
		}
		l.Interval.Start = l.Interval.Start.UTC()
		l.Interval.End = l.Interval.End.UTC()
		o.Lines = append(o.Lines, l)
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("iterate order lines: %w", err)
	}

	hrows, err := conn.QueryContext(ctx, `
		SELECT status, note, at
		FROM order_status_history
		WHERE order_id = $1
		ORDER BY id
	`, o.ID)
	if err != nil {
		return fmt.Errorf("get order history: %w", err)
	}
	defer hrows.Close()

	for hrows.Next() {
		var h StatusEntry
		if err := hrows.Scan(&h.Status, &h.Note, &h.At); err != nil {
			return fmt.Errorf("scan order history: %w", err)
		}
		o.History = append(o.History, h)
	}
	return hrows.Err()
}

func (r *repository) SaveTransition(ctx context.Context, o *Order, entry StatusEntry) error {
	conn := db.Conn(ctx, r.db)

	_, err := conn.ExecContext(ctx, `
		UPDATE orders
		SET status = $2, payment_status = $3, late_fee = $4, actual_return = $5,
		    condition_notes = $6, cancel_reason = $7, updated_at = $8
		WHERE id = $1
	`, o.ID, o.Status, o.PaymentStatus, o.Pricing.LateFee, o.ActualReturn,
		o.ConditionNotes, o.CancelReason, o.UpdatedAt)
	if err != nil {
		logger.FromCtx(ctx).Error("failed to update order status",
			zap.String("layer", "repository"),
			zap.String("order_id", o.ID),
			zap.String("status", string(o.Status)),
			zap.Error(err),
		)
		return fmt.Errorf("update order: %w", err)
	}
	return insertHistory(ctx, conn, o.ID, entry)
}

func (r *repository) UpdatePayment(ctx context.Context, id string, amountPaid int64, status PaymentStatus, at time.Time) error {
	res, err := db.Conn(ctx, r.db).ExecContext(ctx, `
		UPDATE orders SET amount_paid = $2, payment_status = $3, updated_at = $4 WHERE id = $1
	`, id, amountPaid, status, at)
	if err != nil {
		return fmt.Errorf("update order payment: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrOrderNotFound
	}
	return nil
}

func (r *repository) List(ctx context.Context, filter Filter) ([]*Order, error) {
	log := logger.FromCtx(ctx).With(
		zap.String("layer", "repository"),
		zap.String("method", "List"),
	)

	limit := filter.Limit
	if limit <= 0 || limit > 100 {
		limit = 20
	}

	query := `SELECT ` + orderColumns + ` FROM orders WHERE 1=1`
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

	log.Debug("executing list orders query", zap.String("query", query), zap.Any("args", args))

	conn := db.Conn(ctx, r.db)
	orders, err := r.listHeaders(ctx, conn, query, args)
	if err != nil {
		log.Error("failed to list orders", zap.Error(err))
		return nil, err
	}

	// Header rows are closed by now; a tx connection runs one query at a time.
	for _, o := range orders {
		if err := r.loadDetails(ctx, conn, o); err != nil {
			log.Error("failed to load order details", zap.String("order_id", o.ID), zap.Error(err))
			return nil, err
		}
	}

	log.Info("list orders success", zap.Int("count", len(orders)))
	return orders, nil
}

func (r *repository) listHeaders(ctx context.Context, conn db.Executor, query string, args []any) ([]*Order, error) {
	rows, err := conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list orders: %w", err)
	}
	defer rows.Close()

	var orders []*Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		orders = append(orders, o)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate orders: %w", err)
	}
	return orders, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanOrder(row scanner) (*Order, error) {
	var (
		o            Order
		actualReturn sql.NullTime
	)
	if err := row.Scan(
		&o.ID,
		&o.QuotationID,
		&o.CustomerID,
		&o.VendorID,
		&o.Status,
		&o.PaymentStatus,
		&o.Pricing.RentalTotal,
		&o.Pricing.DepositTotal,
		&o.Pricing.TaxRatePercent,
		&o.Pricing.TaxAmount,
		&o.Pricing.GrandTotal,
		&o.Pricing.LateFee,
		&o.AmountPaid,
		&o.RentalStart,
		&o.RentalEnd,
		&actualReturn,
		&o.ConditionNotes,
		&o.CancelReason,
		&o.CreatedAt,
		&o.UpdatedAt,
	); err != nil {
		return nil, err
	}
	if actualReturn.Valid {
		t := actualReturn.Time.UTC()
		o.ActualReturn = &t
	}
	o.RentalStart = o.RentalStart.UTC()
	o.RentalEnd = o.RentalEnd.UTC()
	return &o, nil
}

func insertHistory(ctx context.Context, conn db.Executor, orderID string, h StatusEntry) error {
	_, err := conn.ExecContext(ctx, `
		INSERT INTO order_status_history (order_id, status, note, at) VALUES ($1, $2, $3, $4)
	`, orderID, h.Status, h.Note, h.At)
	if err != nil {
		return fmt.Errorf("insert order history: %w", err)
	}
	return nil
}
