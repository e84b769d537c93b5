package cart

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gofrs/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog/log"
)

var ErrCartNotFound = errors.New("cart not found")

type Repository interface {
	GetByUserID(ctx context.Context, userID uuid.UUID) (*Cart, error)

	// Save persists the whole aggregate: the cart row and the item list it
	// was computed from, in one transaction. Last writer wins on the cart.
	Save(ctx context.Context, c *Cart) error
}

type postgresRepository struct {
	db *pgxpool.Pool
}

func NewRepository(db *pgxpool.Pool) Repository {
	return &postgresRepository{db: db}
}

func (r *postgresRepository) GetByUserID(ctx context.Context, userID uuid.UUID) (*Cart, error) {
	queryCart := `
		SELECT id, user_id, total_items, total_amount, created_at, updated_at
		FROM carts
		WHERE user_id = $1
	`

	var c Cart
	err := r.db.QueryRow(ctx, queryCart, userID).Scan(
		&c.ID,
		&c.UserID,
		&c.TotalItems,
		&c.TotalAmount,
		&c.CreatedAt,
		&c.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrCartNotFound
		}
		return nil, fmt.Errorf("repository: failed to select cart for user %s: %w", userID, err)
	}

	queryItems := `
		SELECT product_id, name, image, price, quantity
		FROM cart_items
		WHERE cart_id = $1
		ORDER BY position ASC
	`
	rows, err := r.db.Query(ctx, queryItems, c.ID)
	if err != nil {
		return nil, fmt.Errorf("repository: failed to query cart items for cart %s: %w", c.ID, err)
	}
	defer rows.Close()

	items := make([]CartItem, 0)
	for rows.Next() {
		var item CartItem
		if err := rows.Scan(&item.ProductID, &item.Name, &item.Image, &item.Price, &item.Quantity); err != nil {
			return nil, fmt.Errorf("repository: failed to scan cart item for cart %s: %w", c.ID, err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("repository: error iterating cart items for cart %s: %w", c.ID, err)
	}

	c.Items = items
	return &c, nil
}

func (r *postgresRepository) Save(ctx context.Context, c *Cart) (err error) {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("repository: failed to begin transaction: %w", err)
	}
	defer func() {
		if err != nil {
			if rbErr := tx.Rollback(ctx); rbErr != nil {
				log.Error().Err(rbErr).Stringer("cart_id", c.ID).Msg("repository: failed to rollback cart save")
			}
			return
		}
		if commitErr := tx.Commit(ctx); commitErr != nil {
			err = fmt.Errorf("repository: failed to commit cart save: %w", commitErr)
		}
	}()

	c.UpdatedAt = time.Now().UTC()
	if c.CreatedAt.IsZero() {
		c.CreatedAt = c.UpdatedAt
	}

	queryCart := `
		INSERT INTO carts (id, user_id, total_items, total_amount, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (user_id) DO UPDATE
		SET total_items = EXCLUDED.total_items,
		    total_amount = EXCLUDED.total_amount,
		    updated_at = EXCLUDED.updated_at
		RETURNING id
	`
	// Two racing lazy creations for one user resolve to a single cart row;
	// keep writing items under the id that actually won.
	err = tx.QueryRow(ctx, queryCart, c.ID, c.UserID, c.TotalItems, c.TotalAmount, c.CreatedAt, c.UpdatedAt).Scan(&c.ID)
	if err != nil {
		return fmt.Errorf("repository: failed to upsert cart for user %s: %w", c.UserID, err)
	}

	_, err = tx.Exec(ctx, `DELETE FROM cart_items WHERE cart_id = $1`, c.ID)
	if err != nil {
		return fmt.Errorf("repository: failed to clear cart items for cart %s: %w", c.ID, err)
	}

	queryItem := `
		INSERT INTO cart_items (cart_id, product_id, name, image, price, quantity, position)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`
	for i, item := range c.Items {
		_, err = tx.Exec(ctx, queryItem, c.ID, item.ProductID, item.Name, item.Image, item.Price, item.Quantity, i)
		if err != nil {
			return fmt.Errorf("repository: failed to insert cart item for cart %s: %w", c.ID, err)
		}
	}

	return nil
}
