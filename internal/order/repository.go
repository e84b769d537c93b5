package order

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/gofrs/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog/log"
)

var (
	ErrOrderNotFound = errors.New("order not found")

	// ErrStateConflict means a conditional update found the order in a
	// different state than expected (a concurrent writer got there first).
	ErrStateConflict = errors.New("order state changed concurrently")
)

type Repository interface {
	// NextOrderNumber draws the next value of a store-owned monotonic
	// sequence, unique under concurrent checkouts.
	NextOrderNumber(ctx context.Context) (int64, error)

	Create(ctx context.Context, o *Order) error
	GetByID(ctx context.Context, id uuid.UUID) (*Order, error)
	GetByNumber(ctx context.Context, number string) (*Order, error)
	GetByPaymentReference(ctx context.Context, reference string) (*Order, error)
	List(ctx context.Context, f Filter) ([]Order, int, error)

	// TransitionStatus moves the order from → to and appends the history
	// event, all conditional on the order still being in from. Returns
	// ErrStateConflict if it is not.
	TransitionStatus(ctx context.Context, id uuid.UUID, from, to Status, event StatusEvent) error

	// SetPaymentState updates the payment fields conditional on the current
	// payment status still being from. Returns ErrStateConflict otherwise.
	SetPaymentState(ctx context.Context, id uuid.UUID, from, to PaymentStatus, reference string, details map[string]any) error

	// Delete removes the order and returns the status it had at the moment
	// of deletion, so the caller can decide whether stock compensation is
	// still owed.
	Delete(ctx context.Context, id uuid.UUID) (Status, error)

	Stats(ctx context.Context) (*Stats, error)
}

type postgresRepository struct {
	db *pgxpool.Pool
}

func NewRepository(db *pgxpool.Pool) Repository {
	return &postgresRepository{db: db}
}

func (r *postgresRepository) NextOrderNumber(ctx context.Context) (int64, error) {
	var n int64
	if err := r.db.QueryRow(ctx, `SELECT nextval('order_number_seq')`).Scan(&n); err != nil {
		return 0, fmt.Errorf("repository: failed to draw order number: %w", err)
	}
	return n, nil
}

func (r *postgresRepository) Create(ctx context.Context, o *Order) (err error) {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("repository: failed to begin transaction: %w", err)
	}
	defer func() {
		if err != nil {
			if rbErr := tx.Rollback(ctx); rbErr != nil {
				log.Error().Err(rbErr).Stringer("order_id", o.ID).Msg("repository: failed to rollback order create")
			}
			return
		}
		if commitErr := tx.Commit(ctx); commitErr != nil {
			err = fmt.Errorf("repository: failed to commit order create: %w", commitErr)
		}
	}()

	details, err := json.Marshal(o.PaymentDetails)
	if err != nil {
		return fmt.Errorf("repository: failed to marshal payment details: %w", err)
	}

	queryOrder := `
		INSERT INTO orders (id, order_number, user_id, status, payment_method, payment_status,
		                    payment_reference, payment_details, subtotal, shipping_fee, tax, discount, total_amount,
		                    ship_full_name, ship_phone, ship_line1, ship_city, ship_state, ship_country,
		                    created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20, $21)
	`
	_, err = tx.Exec(ctx, queryOrder,
		o.ID, o.OrderNumber, o.UserID, string(o.Status), string(o.PaymentMethod), string(o.PaymentStatus),
		o.PaymentReference, details, o.Subtotal, o.ShippingFee, o.Tax, o.Discount, o.TotalAmount,
		o.ShippingAddress.FullName, o.ShippingAddress.Phone, o.ShippingAddress.Line1,
		o.ShippingAddress.City, o.ShippingAddress.State, o.ShippingAddress.Country,
		o.CreatedAt, o.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("repository: failed to insert order: %w", err)
	}

	queryItem := `
		INSERT INTO order_items (order_id, product_id, name, image, price, quantity, line_total, position)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`
	for i, item := range o.Items {
		_, err = tx.Exec(ctx, queryItem,
			o.ID, item.ProductID, item.Name, item.Image, item.Price, item.Quantity, item.LineTotal, i)
		if err != nil {
			return fmt.Errorf("repository: failed to insert order item for order %s: %w", o.ID, err)
		}
	}

	queryEvent := `
		INSERT INTO order_status_history (order_id, position, status, note, at)
		VALUES ($1, $2, $3, $4, $5)
	`
	for i, event := range o.StatusHistory {
		_, err = tx.Exec(ctx, queryEvent, o.ID, i, string(event.Status), event.Note, event.At)
		if err != nil {
			return fmt.Errorf("repository: failed to insert status history for order %s: %w", o.ID, err)
		}
	}

	return nil
}

const orderColumns = `id, order_number, user_id, status, payment_method, payment_status,
	payment_reference, payment_details, subtotal, shipping_fee, tax, discount, total_amount,
	ship_full_name, ship_phone, ship_line1, ship_city, ship_state, ship_country, created_at, updated_at`

func scanOrder(row pgx.Row) (*Order, error) {
	var o Order
	var details []byte
	err := row.Scan(
		&o.ID, &o.OrderNumber, &o.UserID, &o.Status, &o.PaymentMethod, &o.PaymentStatus,
		&o.PaymentReference, &details, &o.Subtotal, &o.ShippingFee, &o.Tax, &o.Discount, &o.TotalAmount,
		&o.ShippingAddress.FullName, &o.ShippingAddress.Phone, &o.ShippingAddress.Line1,
		&o.ShippingAddress.City, &o.ShippingAddress.State, &o.ShippingAddress.Country,
		&o.CreatedAt, &o.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if len(details) > 0 {
		if err := json.Unmarshal(details, &o.PaymentDetails); err != nil {
			return nil, fmt.Errorf("failed to unmarshal payment details: %w", err)
		}
	}
	return &o, nil
}

func (r *postgresRepository) getBy(ctx context.Context, where string, arg any) (*Order, error) {
	o, err := scanOrder(r.db.QueryRow(ctx, `SELECT `+orderColumns+` FROM orders WHERE `+where, arg))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrOrderNotFound
		}
		return nil, fmt.Errorf("repository: failed to select order: %w", err)
	}
	if err := r.loadChildren(ctx, o); err != nil {
		return nil, err
	}
	return o, nil
}

func (r *postgresRepository) loadChildren(ctx context.Context, o *Order) error {
	itemRows, err := r.db.Query(ctx,
		`SELECT product_id, name, image, price, quantity, line_total FROM order_items WHERE order_id = $1 ORDER BY position ASC`, o.ID)
	if err != nil {
		return fmt.Errorf("repository: failed to query order items for order %s: %w", o.ID, err)
	}
	defer itemRows.Close()

	o.Items = make([]OrderItem, 0)
	for itemRows.Next() {
		var item OrderItem
		if err := itemRows.Scan(&item.ProductID, &item.Name, &item.Image, &item.Price, &item.Quantity, &item.LineTotal); err != nil {
			return fmt.Errorf("repository: failed to scan order item for order %s: %w", o.ID, err)
		}
		o.Items = append(o.Items, item)
	}
	if err := itemRows.Err(); err != nil {
		return fmt.Errorf("repository: error iterating order items for order %s: %w", o.ID, err)
	}

	eventRows, err := r.db.Query(ctx,
		`SELECT status, note, at FROM order_status_history WHERE order_id = $1 ORDER BY position ASC`, o.ID)
	if err != nil {
		return fmt.Errorf("repository: failed to query status history for order %s: %w", o.ID, err)
	}
	defer eventRows.Close()

	o.StatusHistory = make([]StatusEvent, 0)
	for eventRows.Next() {
		var event StatusEvent
		if err := eventRows.Scan(&event.Status, &event.Note, &event.At); err != nil {
			return fmt.Errorf("repository: failed to scan status history for order %s: %w", o.ID, err)
		}
		o.StatusHistory = append(o.StatusHistory, event)
	}
	if err := eventRows.Err(); err != nil {
		return fmt.Errorf("repository: error iterating status history for order %s: %w", o.ID, err)
	}

	return nil
}

func (r *postgresRepository) GetByID(ctx context.Context, id uuid.UUID) (*Order, error) {
	return r.getBy(ctx, `id = $1`, id)
}

func (r *postgresRepository) GetByNumber(ctx context.Context, number string) (*Order, error) {
	return r.getBy(ctx, `order_number = $1`, number)
}

func (r *postgresRepository) GetByPaymentReference(ctx context.Context, reference string) (*Order, error) {
	if reference == "" {
		return nil, ErrOrderNotFound
	}
	return r.getBy(ctx, `payment_reference = $1`, reference)
}

func (r *postgresRepository) List(ctx context.Context, f Filter) ([]Order, int, error) {
	where := ` WHERE 1=1`
	args := []any{}
	argn := 0

	next := func(v any) string {
		argn++
		args = append(args, v)
		return fmt.Sprintf("$%d", argn)
	}

	if f.UserID != uuid.Nil {
		where += ` AND user_id = ` + next(f.UserID)
	}
	if f.Status != "" {
		where += ` AND status = ` + next(string(f.Status))
	}
	if f.PaymentStatus != "" {
		where += ` AND payment_status = ` + next(string(f.PaymentStatus))
	}

	var total int
	if err := r.db.QueryRow(ctx, `SELECT count(*) FROM orders`+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("repository: failed to count orders: %w", err)
	}

	limit := f.Limit
	if limit <= 0 {
		limit = 20
	}
	page := f.Page
	if page <= 0 {
		page = 1
	}
	query := `SELECT ` + orderColumns + ` FROM orders` + where +
		` ORDER BY created_at DESC LIMIT ` + next(limit) + ` OFFSET ` + next((page-1)*limit)

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("repository: failed to query orders: %w", err)
	}
	defer rows.Close()

	orders := make([]Order, 0)
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("repository: failed to scan order: %w", err)
		}
		orders = append(orders, *o)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("repository: error iterating orders: %w", err)
	}

	for i := range orders {
		if err := r.loadChildren(ctx, &orders[i]); err != nil {
			return nil, 0, err
		}
	}

	return orders, total, nil
}

func (r *postgresRepository) TransitionStatus(ctx context.Context, id uuid.UUID, from, to Status, event StatusEvent) (err error) {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("repository: failed to begin transaction: %w", err)
	}
	defer func() {
		if err != nil {
			if rbErr := tx.Rollback(ctx); rbErr != nil {
				log.Error().Err(rbErr).Stringer("order_id", id).Msg("repository: failed to rollback status transition")
			}
			return
		}
		if commitErr := tx.Commit(ctx); commitErr != nil {
			err = fmt.Errorf("repository: failed to commit status transition: %w", commitErr)
		}
	}()

	cmdTag, err := tx.Exec(ctx,
		`UPDATE orders SET status = $2, updated_at = $3 WHERE id = $1 AND status = $4`,
		id, string(to), time.Now().UTC(), string(from),
	)
	if err != nil {
		return fmt.Errorf("repository: failed to update order status: %w", err)
	}
	if cmdTag.RowsAffected() == 0 {
		var exists bool
		if checkErr := tx.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM orders WHERE id = $1)`, id).Scan(&exists); checkErr != nil {
			return fmt.Errorf("repository: failed to check order existence: %w", checkErr)
		}
		if !exists {
			return ErrOrderNotFound
		}
		return ErrStateConflict
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO order_status_history (order_id, position, status, note, at)
		SELECT $1, COALESCE(MAX(position), -1) + 1, $2, $3, $4
		FROM order_status_history WHERE order_id = $1
	`, id, string(event.Status), event.Note, event.At)
	if err != nil {
		return fmt.Errorf("repository: failed to append status history: %w", err)
	}

	return nil
}

func (r *postgresRepository) SetPaymentState(ctx context.Context, id uuid.UUID, from, to PaymentStatus, reference string, details map[string]any) error {
	payload := []byte(`{}`)
	if details != nil {
		var err error
		payload, err = json.Marshal(details)
		if err != nil {
			return fmt.Errorf("repository: failed to marshal payment details: %w", err)
		}
	}

	cmdTag, err := r.db.Exec(ctx, `
		UPDATE orders
		SET payment_status = $2, payment_reference = $3, payment_details = payment_details || $4, updated_at = $5
		WHERE id = $1 AND payment_status = $6
	`, id, string(to), reference, payload, time.Now().UTC(), string(from))
	if err != nil {
		return fmt.Errorf("repository: failed to update payment state: %w", err)
	}
	if cmdTag.RowsAffected() == 0 {
		var exists bool
		if checkErr := r.db.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM orders WHERE id = $1)`, id).Scan(&exists); checkErr != nil {
			return fmt.Errorf("repository: failed to check order existence: %w", checkErr)
		}
		if !exists {
			return ErrOrderNotFound
		}
		return ErrStateConflict
	}
	return nil
}

func (r *postgresRepository) Delete(ctx context.Context, id uuid.UUID) (Status, error) {
	var status Status
	err := r.db.QueryRow(ctx, `DELETE FROM orders WHERE id = $1 RETURNING status`, id).Scan(&status)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", ErrOrderNotFound
		}
		return "", fmt.Errorf("repository: failed to delete order %s: %w", id, err)
	}
	return status, nil
}

func (r *postgresRepository) Stats(ctx context.Context) (*Stats, error) {
	rows, err := r.db.Query(ctx, `
		SELECT status,
		       count(*),
		       COALESCE(SUM(total_amount) FILTER (WHERE payment_status = 'paid'), 0)
		FROM orders
		GROUP BY status
		ORDER BY status
	`)
	if err != nil {
		return nil, fmt.Errorf("repository: failed to query order stats: %w", err)
	}
	defer rows.Close()

	stats := &Stats{ByStatus: []StatusCount{}}
	for rows.Next() {
		var sc StatusCount
		if err := rows.Scan(&sc.Status, &sc.Count, &sc.Revenue); err != nil {
			return nil, fmt.Errorf("repository: failed to scan order stats: %w", err)
		}
		stats.ByStatus = append(stats.ByStatus, sc)
		stats.TotalOrders += sc.Count
		stats.TotalRevenue += sc.Revenue
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("repository: error iterating order stats: %w", err)
	}

	return stats, nil
}
