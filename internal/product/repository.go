package product

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gofrs/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

type Repository interface {
	Create(ctx context.Context, p *Product) error
	GetByID(ctx context.Context, id uuid.UUID) (*Product, error)
	Update(ctx context.Context, p *Product) error
	Delete(ctx context.Context, id uuid.UUID) error
	ListLowStock(ctx context.Context) ([]Product, error)

	// ReserveStock decrements stock_quantity by qty in a single conditional
	// statement. It returns *InsufficientStockError without mutating anything
	// when the product tracks stock and has fewer than qty units left.
	ReserveStock(ctx context.Context, id uuid.UUID, qty int) error

	// ReleaseStock increments stock_quantity by qty.
	ReleaseStock(ctx context.Context, id uuid.UUID, qty int) error
}

type postgresRepository struct {
	db *pgxpool.Pool
}

func NewRepository(db *pgxpool.Pool) Repository {
	return &postgresRepository{db: db}
}

const productColumns = `id, sku, name, description, image, price, status, stock_quantity, track_stock, low_stock_threshold, created_at, updated_at`

func scanProduct(row pgx.Row) (*Product, error) {
	var p Product
	err := row.Scan(
		&p.ID,
		&p.SKU,
		&p.Name,
		&p.Description,
		&p.Image,
		&p.Price,
		&p.Status,
		&p.Stock.Quantity,
		&p.Stock.TrackStock,
		&p.Stock.LowStockThreshold,
		&p.CreatedAt,
		&p.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (r *postgresRepository) Create(ctx context.Context, p *Product) error {
	now := time.Now().UTC()
	p.CreatedAt = now
	p.UpdatedAt = now

	query := `
		INSERT INTO products (id, sku, name, description, image, price, status, stock_quantity, track_stock, low_stock_threshold, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`
	_, err := r.db.Exec(ctx, query,
		p.ID, p.SKU, p.Name, p.Description, p.Image, p.Price, string(p.Status),
		p.Stock.Quantity, p.Stock.TrackStock, p.Stock.LowStockThreshold,
		p.CreatedAt, p.UpdatedAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return ErrSKUExists
		}
		return fmt.Errorf("repository: failed to insert product: %w", err)
	}
	return nil
}

func (r *postgresRepository) GetByID(ctx context.Context, id uuid.UUID) (*Product, error) {
	query := `SELECT ` + productColumns + ` FROM products WHERE id = $1`

	p, err := scanProduct(r.db.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrProductNotFound
		}
		return nil, fmt.Errorf("repository: failed to select product %s: %w", id, err)
	}
	return p, nil
}

func (r *postgresRepository) Update(ctx context.Context, p *Product) error {
	p.UpdatedAt = time.Now().UTC()

	query := `
		UPDATE products
		SET sku = $2, name = $3, description = $4, image = $5, price = $6, status = $7,
		    track_stock = $8, low_stock_threshold = $9, updated_at = $10
		WHERE id = $1
	`
	cmdTag, err := r.db.Exec(ctx, query,
		p.ID, p.SKU, p.Name, p.Description, p.Image, p.Price, string(p.Status),
		p.Stock.TrackStock, p.Stock.LowStockThreshold, p.UpdatedAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return ErrSKUExists
		}
		return fmt.Errorf("repository: failed to update product %s: %w", p.ID, err)
	}
	if cmdTag.RowsAffected() == 0 {
		return ErrProductNotFound
	}
	return nil
}

func (r *postgresRepository) Delete(ctx context.Context, id uuid.UUID) error {
	cmdTag, err := r.db.Exec(ctx, `DELETE FROM products WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("repository: failed to delete product %s: %w", id, err)
	}
	if cmdTag.RowsAffected() == 0 {
		return ErrProductNotFound
	}
	return nil
}

func (r *postgresRepository) ListLowStock(ctx context.Context) ([]Product, error) {
	query := `
		SELECT ` + productColumns + `
		FROM products
		WHERE track_stock AND stock_quantity <= low_stock_threshold
		ORDER BY stock_quantity ASC
	`
	rows, err := r.db.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("repository: failed to query low-stock products: %w", err)
	}
	defer rows.Close()

	products := make([]Product, 0)
	for rows.Next() {
		p, err := scanProduct(rows)
		if err != nil {
			return nil, fmt.Errorf("repository: failed to scan low-stock product: %w", err)
		}
		products = append(products, *p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("repository: error iterating low-stock products: %w", err)
	}
	return products, nil
}

// ReserveStock is the one place stock goes down. The WHERE clause makes the
// check and the decrement a single atomic statement, so two concurrent
// reservations can never both take the last unit.
func (r *postgresRepository) ReserveStock(ctx context.Context, id uuid.UUID, qty int) error {
	query := `
		UPDATE products
		SET stock_quantity = stock_quantity - $2,
		    status = CASE WHEN stock_quantity - $2 = 0 THEN 'out_of_stock' ELSE status END,
		    updated_at = $3
		WHERE id = $1 AND track_stock AND stock_quantity >= $2
	`
	cmdTag, err := r.db.Exec(ctx, query, id, qty, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("repository: failed to reserve stock for product %s: %w", id, err)
	}
	if cmdTag.RowsAffected() > 0 {
		return nil
	}

	// No row updated: the product is missing, untracked, or short on stock.
	p, err := r.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if !p.Stock.TrackStock {
		return nil
	}
	return &InsufficientStockError{ProductID: id, Requested: qty, Available: p.Stock.Quantity}
}

func (r *postgresRepository) ReleaseStock(ctx context.Context, id uuid.UUID, qty int) error {
	query := `
		UPDATE products
		SET stock_quantity = stock_quantity + $2,
		    status = CASE WHEN status = 'out_of_stock' AND stock_quantity + $2 > 0 THEN 'active' ELSE status END,
		    updated_at = $3
		WHERE id = $1 AND track_stock
	`
	cmdTag, err := r.db.Exec(ctx, query, id, qty, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("repository: failed to release stock for product %s: %w", id, err)
	}
	if cmdTag.RowsAffected() > 0 {
		return nil
	}

	_, err = r.GetByID(ctx, id)
	if err != nil {
		return err
	}
	// Untracked product: releasing is a no-op.
	return nil
}
