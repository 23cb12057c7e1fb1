package payment

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
	Create(ctx context.Context, p *Payment) error
	Get(ctx context.Context, id string) (*Payment, error)
	GetForUpdate(ctx context.Context, id string) (*Payment, error)
	GetByTransactionID(ctx context.Context, transactionID string) (*Payment, error)
	ListByInvoice(ctx context.Context, invoiceID string) ([]*Payment, error)
	// MarkSuccess fails with ErrTransactionTaken when another payment already
	// carries transactionID.
	MarkSuccess(ctx context.Context, id, transactionID, signature string, at time.Time) error
	MarkFailed(ctx context.Context, id, reason string, at time.Time) error

	// SaveCallback appends a delivery to the callback log. A delivery with the same
	// transaction id and signature as an earlier one is reported as a duplicate.
	SaveCallback(ctx context.Context, cb Callback, signatureValid bool, at time.Time) (callbackID int64, isDuplicate bool, err error)
	MarkCallbackProcessed(ctx context.Context, callbackID int64, outcome Outcome, at time.Time) error
}

type repository struct {
	db *sql.DB
}

func NewRepository(db *sql.DB) Repository {
	return &repository{db: db}
}

const paymentColumns = `id, invoice_id, order_id, amount, method, status, transaction_id,
	signature, failure_reason, created_at, updated_at`

func (r *repository) Create(ctx context.Context, p *Payment) error {
	_, err := db.Conn(ctx, r.db).ExecContext(ctx, `
		INSERT INTO payments (`+paymentColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`,
		p.ID, p.InvoiceID, p.OrderID, p.Amount, p.Method, p.Status, p.TransactionID,
		p.Signature, p.FailureReason, p.CreatedAt, p.UpdatedAt,
	)
	if err != nil {
		logger.FromCtx(ctx).Error("failed to insert payment",
			zap.String("layer", "repository"),
			zap.String("payment_id", p.ID),
			zap.Error(err),
		)
		return fmt.Errorf("insert payment: %w", err)
	}
	return nil
}

func (r *repository) Get(ctx context.Context, id string) (*Payment, error) {
	return r.get(ctx, `SELECT `+paymentColumns+` FROM payments WHERE id = $1`, id)
}

func (r *repository) GetForUpdate(ctx context.Context, id string) (*Payment, error) {
	return r.get(ctx, `SELECT `+paymentColumns+` FROM payments WHERE id = $1 FOR UPDATE`, id)
}

func (r *repository) GetByTransactionID(ctx context.Context, transactionID string) (*Payment, error) {
	return r.get(ctx, `SELECT `+paymentColumns+` FROM payments WHERE transaction_id = $1`, transactionID)
}

func (r *repository) get(ctx context.Context, query, arg string) (*Payment, error) {
	p, err := scanPayment(db.Conn(ctx, r.db).QueryRowContext(ctx, query, arg))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrPaymentNotFound
		}
		return nil, fmt.Errorf("get payment: %w", err)
	}
	return p, nil
}

func (r *repository) ListByInvoice(ctx context.Context, invoiceID string) ([]*Payment, error) {
	rows, err := db.Conn(ctx, r.db).QueryContext(ctx, `
		SELECT `+paymentColumns+` FROM payments WHERE invoice_id = $1 ORDER BY created_at
	`, invoiceID)
	if err != nil {
		return nil, fmt.Errorf("list payments: %w", err)
	}
	defer rows.Close()

	var payments []*Payment
	for rows.Next() {
		p, err := scanPayment(rows)
		if err != nil {
			return nil, fmt.Errorf("scan payment: %w", err)
		}
		payments = append(payments, p)
	}
	return payments, rows.Err()
}

func (r *repository) MarkSuccess(ctx context.Context, id, transactionID, signature string, at time.Time) error {
	res, err := db.Conn(ctx, r.db).ExecContext(ctx, `
		UPDATE payments
		SET status = $2, transaction_id = $3, signature = $4, updated_at = $5
		WHERE id = $1 AND status = $6
	`, id, StatusSuccess, transactionID, signature, at, StatusPending)
	if err != nil {
		if db.IsUniqueViolation(err) {
			return ErrTransactionTaken
		}
		return fmt.Errorf("mark payment success: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrAlreadyProcessed
	}
	return nil
}

func (r *repository) MarkFailed(ctx context.Context, id, reason string, at time.Time) error {
	res, err := db.Conn(ctx, r.db).ExecContext(ctx, `
		UPDATE payments
		SET status = $2, failure_reason = $3, updated_at = $4
		WHERE id = $1 AND status = $5
	`, id, StatusFailed, reason, at, StatusPending)
	if err != nil {
		return fmt.Errorf("mark payment failed: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrAlreadyProcessed
	}
	return nil
}

func (r *repository) SaveCallback(ctx context.Context, cb Callback, signatureValid bool, at time.Time) (int64, bool, error) {
	const q = `
	INSERT INTO payment_callbacks (
		transaction_id,
		payment_id,
		signature,
		amount,
		signature_valid,
		received_at
	)
	VALUES ($1, $2, $3, $4, $5, $6)
	ON CONFLICT (transaction_id, signature)
	DO NOTHING
	RETURNING id;
	`

	var id int64
	err := db.Conn(ctx, r.db).QueryRowContext(ctx, q,
		cb.TransactionID,
		cb.PaymentID,
		cb.Signature,
		cb.Amount,
		signatureValid,
		at,
	).Scan(&id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, true, nil
		}
		return 0, false, fmt.Errorf("save payment callback: %w", err)
	}

	return id, false, nil
}

func (r *repository) MarkCallbackProcessed(ctx context.Context, callbackID int64, outcome Outcome, at time.Time) error {
	const q = `
	UPDATE payment_callbacks
	SET processed_at = $2, outcome = $3
	WHERE id = $1;
	`

	if _, err := db.Conn(ctx, r.db).ExecContext(ctx, q, callbackID, at, outcome); err != nil {
		return fmt.Errorf("mark payment callback processed: %w", err)
	}
	return nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanPayment(row scanner) (*Payment, error) {
	var (
		p             Payment
		transactionID sql.NullString
		signature     sql.NullString
	)
	if err := row.Scan(
		&p.ID,
		&p.InvoiceID,
		&p.OrderID,
		&p.Amount,
		&p.Method,
		&p.Status,
		&transactionID,
		&signature,
		&p.FailureReason,
		&p.CreatedAt,
		&p.UpdatedAt,
	); err != nil {
		return nil, err
	}
	if transactionID.Valid {
		p.TransactionID = &transactionID.String
	}
	if signature.Valid {
		p.Signature = &signature.String
	}
	return &p, nil
}
