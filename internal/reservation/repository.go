package reservation

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"rentloop-be/internal/availability"
	"rentloop-be/internal/db"
	"rentloop-be/internal/logger"
	"rentloop-be/internal/utils"

	"github.com/lib/pq"
	"go.uber.org/zap"
)

type Repository interface {
	// LockStock row-locks the products in ascending id order and returns on-hand
	// stock per key. A product with variants is stocked only through its variants.
	LockStock(ctx context.Context, productIDs []string) (map[availability.Key]int, error)
	GetStock(ctx context.Context, productIDs []string) (map[availability.Key]int, error)
	ListActiveHolds(ctx context.Context, productIDs []string) ([]Hold, error)
	ListHoldsByOwner(ctx context.Context, ownerID string, activeOnly bool) ([]Hold, error)
	GetHoldForUpdate(ctx context.Context, id string) (*Hold, error)
	InsertHolds(ctx context.Context, holds []Hold) error
	UpdateHoldState(ctx context.Context, ids []string, state State, at time.Time) error
	ReassignOwner(ctx context.Context, ids []string, ownerID string, at time.Time) error
}

type repository struct {
	db *sql.DB
}

func NewRepository(db *sql.DB) Repository {
	return &repository{db: db}
}

const holdColumns = `id, product_id, variant_id, quantity, starts_at, ends_at, owner_id, state, created_at, updated_at`

func (r *repository) LockStock(ctx context.Context, productIDs []string) (map[availability.Key]int, error) {
	return r.stock(ctx, productIDs, true)
}

func (r *repository) GetStock(ctx context.Context, productIDs []string) (map[availability.Key]int, error) {
	return r.stock(ctx, productIDs, false)
}

func (r *repository) stock(ctx context.Context, productIDs []string, forUpdate bool) (map[availability.Key]int, error) {
	log := logger.FromCtx(ctx).With(
		zap.String("layer", "repository"),
		zap.String("method", "stock"),
		zap.Bool("for_update", forUpdate),
	)

	stock := make(map[availability.Key]int, len(productIDs))
	if len(productIDs) == 0 {
		return stock, nil
	}

	query := `SELECT id, quantity_on_hand FROM products WHERE id = ANY($1) ORDER BY id`
	if forUpdate {
		query += ` FOR UPDATE`
	}

	conn := db.Conn(ctx, r.db)
	rows, err := conn.QueryContext(ctx, query, pq.Array(productIDs))
	if err != nil {
		log.Error("failed to read product stock", zap.Error(err))
		return nil, fmt.Errorf("read product stock: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			id  string
			qty int
		)
		if err := rows.Scan(&id, &qty); err != nil {
			return nil, fmt.Errorf("scan product stock: %w", err)
		}
		stock[availability.Key{ProductID: id}] = qty
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate product stock: %w", err)
	}

	vrows, err := conn.QueryContext(ctx, `
		SELECT product_id, id, quantity_on_hand
		FROM product_variants
		WHERE product_id = ANY($1)
		ORDER BY product_id, id
	`, pq.Array(productIDs))
	if err != nil {
		log.Error("failed to read variant stock", zap.Error(err))
		return nil, fmt.Errorf("read variant stock: %w", err)
	}
	defer vrows.Close()

	for vrows.Next() {
		var (
			productID, variantID string
			qty                  int
		)
		if err := vrows.Scan(&productID, &variantID, &qty); err != nil {
			return nil, fmt.Errorf("scan variant stock: %w", err)
		}
		stock[availability.Key{ProductID: productID, VariantID: variantID}] = qty
		delete(stock, availability.Key{ProductID: productID})
	}
	return stock, vrows.Err()
}

func (r *repository) ListActiveHolds(ctx context.Context, productIDs []string) ([]Hold, error) {
	if len(productIDs) == 0 {
		return nil, nil
	}
	rows, err := db.Conn(ctx, r.db).QueryContext(ctx, `
		SELECT `+holdColumns+`
		FROM holds
		WHERE product_id = ANY($1) AND state IN ('SOFT', 'COMMITTED')
		ORDER BY created_at, id
	`, pq.Array(productIDs))
	if err != nil {
		logger.FromCtx(ctx).Error("failed to list active holds",
			zap.String("layer", "repository"),
			zap.Error(err),
		)
		return nil, fmt.Errorf("list active holds: %w", err)
	}
	return scanHolds(rows)
}

func (r *repository) ListHoldsByOwner(ctx context.Context, ownerID string, activeOnly bool) ([]Hold, error) {
	query := `SELECT ` + holdColumns + ` FROM holds WHERE owner_id = $1`
	if activeOnly {
		query += ` AND state IN ('SOFT', 'COMMITTED')`
	}
	query += ` ORDER BY created_at, id`

	rows, err := db.Conn(ctx, r.db).QueryContext(ctx, query, ownerID)
	if err != nil {
		return nil, fmt.Errorf("list holds by owner: %w", err)
	}
	return scanHolds(rows)
}

func (r *repository) GetHoldForUpdate(ctx context.Context, id string) (*Hold, error) {
	rows, err := db.Conn(ctx, r.db).QueryContext(ctx,
		`SELECT `+holdColumns+` FROM holds WHERE id = $1 FOR UPDATE`, id)
	if err != nil {
		return nil, fmt.Errorf("get hold: %w", err)
	}
	holds, err := scanHolds(rows)
	if err != nil {
		return nil, err
	}
	if len(holds) == 0 {
		return nil, ErrHoldNotFound
	}
	return &holds[0], nil
}

func (r *repository) InsertHolds(ctx context.Context, holds []Hold) error {
	conn := db.Conn(ctx, r.db)
	for _, h := range holds {
		_, err := conn.ExecContext(ctx, `
			INSERT INTO holds (`+holdColumns+`)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		`,
			h.ID, h.ProductID, h.VariantID, h.Quantity,
			h.Interval.Start, h.Interval.End,
			h.OwnerID, h.State, h.CreatedAt, h.UpdatedAt,
		)
		if err != nil {
			logger.FromCtx(ctx).Error("failed to insert hold",
				zap.String("layer", "repository"),
				zap.String("hold_id", h.ID),
				zap.Error(err),
			)
			return fmt.Errorf("insert hold: %w", err)
		}
	}
	return nil
}

func (r *repository) UpdateHoldState(ctx context.Context, ids []string, state State, at time.Time) error {
	if len(ids) == 0 {
		return nil
	}
	_, err := db.Conn(ctx, r.db).ExecContext(ctx,
		`UPDATE holds SET state = $1, updated_at = $2 WHERE id = ANY($3)`,
		state, at, pq.Array(ids),
	)
	if err != nil {
		return fmt.Errorf("update hold state: %w", err)
	}
	return nil
}

func (r *repository) ReassignOwner(ctx context.Context, ids []string, ownerID string, at time.Time) error {
	if len(ids) == 0 {
		return nil
	}
	_, err := db.Conn(ctx, r.db).ExecContext(ctx,
		`UPDATE holds SET owner_id = $1, updated_at = $2 WHERE id = ANY($3)`,
		ownerID, at, pq.Array(ids),
	)
	if err != nil {
		return fmt.Errorf("reassign holds: %w", err)
	}
	return nil
}

func scanHolds(rows *sql.Rows) ([]Hold, error) {
	defer rows.Close()

	var holds []Hold
	for rows.Next() {
		var (
			h         Hold
			variantID sql.NullString
		)
		if err := rows.Scan(
			&h.ID,
			&h.ProductID,
			&variantID,
			&h.Quantity,
			&h.Interval.Start,
			&h.Interval.End,
			&h.OwnerID,
			&h.State,
			&h.CreatedAt,
			&h.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan hold: %w", err)
		}
		if variantID.Valid {
			h.VariantID = utils.StrPtr(variantID.String)
		}
		h.Interval.Start = h.Interval.Start.UTC()
		h.Interval.End = h.Interval.End.UTC()
		holds = append(holds, h)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate holds: %w", err)
	}
	return holds, nil
}
