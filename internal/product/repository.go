package product

import (
	"context"
	"database/sql"
	"fmt"
	"slices"
	"time"

	"rentloop-be/internal/db"
	"rentloop-be/internal/logger"
	"rentloop-be/internal/pricing"

	"github.com/lib/pq"
	"go.uber.org/zap"
)

type Repository interface {
	GetByID(ctx context.Context, id string) (*Product, error)
	GetByIDs(ctx context.Context, ids []string) (map[string]*Product, error)
	List(ctx context.Context, filter ListFilter) ([]*Product, error)
}

type repository struct {
	db *sql.DB
}

func NewRepository(db *sql.DB) Repository {
	return &repository{db: db}
}

func (r *repository) GetByID(ctx context.Context, id string) (*Product, error) {
	products, err := r.GetByIDs(ctx, []string{id})
	if err != nil {
		return nil, err
	}
	p, ok := products[id]
	if !ok {
		return nil, ErrProductNotFound
	}
	return p, nil
}

// GetByIDs returns the requested products keyed by id. Unknown ids are absent from
// the map rather than reported as errors.
func (r *repository) GetByIDs(ctx context.Context, ids []string) (map[string]*Product, error) {
	log := logger.FromCtx(ctx).With(
		zap.String("layer", "repository"),
		zap.String("method", "GetByIDs"),
		zap.Int("count", len(ids)),
	)

	result := make(map[string]*Product, len(ids))
	if len(ids) == 0 {
		return result, nil
	}

	conn := db.Conn(ctx, r.db)
	rows, err := conn.QueryContext(ctx, `
		SELECT id, vendor_id, name, status, quantity_on_hand,
		       deposit_amount, custom_period_seconds, created_at, updated_at
		FROM products
		WHERE id = ANY($1)
		ORDER BY id
	`, pq.Array(ids))
	if err != nil {
		log.Error("failed to query products", zap.Error(err))
		return nil, fmt.Errorf("query products: %w", err)
	}
	ordered, err := scanProducts(rows)
	if err != nil {
		log.Error("failed to scan products", zap.Error(err))
		return nil, err
	}
	for _, p := range ordered {
		result[p.ID] = p
	}

	if err := r.attachDetails(ctx, conn, result); err != nil {
		log.Error("failed to load product details", zap.Error(err))
		return nil, err
	}

	log.Debug("products loaded", zap.Int("found", len(result)))
	return result, nil
}

func (r *repository) List(ctx context.Context, filter ListFilter) ([]*Product, error) {
	log := logger.FromCtx(ctx).With(
		zap.String("layer", "repository"),
		zap.String("method", "List"),
	)

	limit := filter.Limit
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	offset := filter.Offset
	if offset < 0 {
		offset = 0
	}

	query := `
		SELECT id, vendor_id, name, status, quantity_on_hand,
		       deposit_amount, custom_period_seconds, created_at, updated_at
		FROM products
		WHERE 1=1
	`
	args := []any{}
	argIndex := 1

	if filter.VendorID != "" {
		query += fmt.Sprintf(" AND vendor_id = $%d", argIndex)
		args = append(args, filter.VendorID)
		argIndex++
	}
	if filter.OnlyActive {
		query += fmt.Sprintf(" AND status = $%d", argIndex)
		args = append(args, StatusActive)
		argIndex++
	}

	query += fmt.Sprintf(" ORDER BY name, id LIMIT $%d OFFSET $%d", argIndex, argIndex+1)
	args = append(args, limit, offset)

	conn := db.Conn(ctx, r.db)
	rows, err := conn.QueryContext(ctx, query, args...)
	if err != nil {
		log.Error("failed to query products", zap.Error(err))
		return nil, fmt.Errorf("list products: %w", err)
	}
	products, err := scanProducts(rows)
	if err != nil {
		log.Error("failed to scan products", zap.Error(err))
		return nil, err
	}

	byID := make(map[string]*Product, len(products))
	for _, p := range products {
		byID[p.ID] = p
	}
	if err := r.attachDetails(ctx, conn, byID); err != nil {
		log.Error("failed to load product details", zap.Error(err))
		return nil, err
	}

	log.Info("list products success", zap.Int("count", len(products)))
	return products, nil
}

func scanProducts(rows *sql.Rows) ([]*Product, error) {
	defer rows.Close()

	var products []*Product
	for rows.Next() {
		var (
			p             Product
			customSeconds int64
		)
		if err := rows.Scan(
			&p.ID,
			&p.VendorID,
			&p.Name,
			&p.Status,
			&p.QuantityOnHand,
			&p.Pricing.DepositPerUnit,
			&customSeconds,
			&p.CreatedAt,
			&p.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan product: %w", err)
		}
		p.Pricing.CustomPeriod = time.Duration(customSeconds) * time.Second
		p.Pricing.Rates = map[pricing.DurationType]int64{}
		products = append(products, &p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate products: %w", err)
	}
	return products, nil
}

// attachDetails loads variants and rates for every product in byID.
func (r *repository) attachDetails(ctx context.Context, conn db.Executor, byID map[string]*Product) error {
	if len(byID) == 0 {
		return nil
	}
	ids := make([]string, 0, len(byID))
	for id := range byID {
		ids = append(ids, id)
	}
	slices.Sort(ids)

	vrows, err := conn.QueryContext(ctx, `
		SELECT id, product_id, name, quantity_on_hand
		FROM product_variants
		WHERE product_id = ANY($1)
		ORDER BY product_id, id
	`, pq.Array(ids))
	if err != nil {
		return fmt.Errorf("query variants: %w", err)
	}
	defer vrows.Close()

	for vrows.Next() {
		var v Variant
		if err := vrows.Scan(&v.ID, &v.ProductID, &v.Name, &v.QuantityOnHand); err != nil {
			return fmt.Errorf("scan variant: %w", err)
		}
		if p, ok := byID[v.ProductID]; ok {
			p.Variants = append(p.Variants, &v)
		}
	}
	if err := vrows.Err(); err != nil {
		return fmt.Errorf("iterate variants: %w", err)
	}

	rrows, err := conn.QueryContext(ctx, `
		SELECT product_id, duration_type, amount
		FROM product_rates
		WHERE product_id = ANY($1)
	`, pq.Array(ids))
	if err != nil {
		return fmt.Errorf("query rates: %w", err)
	}
	defer rrows.Close()

	for rrows.Next() {
		var (
			productID string
			dt        pricing.DurationType
			amount    int64
		)
		if err := rrows.Scan(&productID, &dt, &amount); err != nil {
			return fmt.Errorf("scan rate: %w", err)
		}
		if p, ok := byID[productID]; ok {
			p.Pricing.Rates[dt] = amount
		}
	}
	return rrows.Err()
}
