package memory

import (
	"context"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gofrs/uuid"

	"github.com/cyberspacetechhub/gadget-store-sub001/internal/order"
)

type OrderRepository struct {
	mu      sync.RWMutex
	orders  map[uuid.UUID]*order.Order
	counter int64
}

func NewOrderRepository() *OrderRepository {
	return &OrderRepository{orders: make(map[uuid.UUID]*order.Order)}
}

func cloneOrder(o *order.Order) *order.Order {
	clone := *o
	clone.Items = make([]order.OrderItem, len(o.Items))
	copy(clone.Items, o.Items)
	clone.StatusHistory = make([]order.StatusEvent, len(o.StatusHistory))
	copy(clone.StatusHistory, o.StatusHistory)
	clone.PaymentDetails = make(map[string]any, len(o.PaymentDetails))
	for k, v := range o.PaymentDetails {
		clone.PaymentDetails[k] = v
	}
	return &clone
}

func (r *OrderRepository) NextOrderNumber(ctx context.Context) (int64, error) {
	_ = ctx
	return atomic.AddInt64(&r.counter, 1), nil
}

func (r *OrderRepository) Create(ctx context.Context, o *order.Order) error {
	_ = ctx

	r.mu.Lock()
	defer r.mu.Unlock()

	r.orders[o.ID] = cloneOrder(o)
	return nil
}

func (r *OrderRepository) GetByID(ctx context.Context, id uuid.UUID) (*order.Order, error) {
	_ = ctx

	r.mu.RLock()
	defer r.mu.RUnlock()

	o, ok := r.orders[id]
	if !ok {
		return nil, order.ErrOrderNotFound
	}
	return cloneOrder(o), nil
}

func (r *OrderRepository) GetByNumber(ctx context.Context, number string) (*order.Order, error) {
	_ = ctx

	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, o := range r.orders {
		if o.OrderNumber == number {
			return cloneOrder(o), nil
		}
	}
	return nil, order.ErrOrderNotFound
}

func (r *OrderRepository) GetByPaymentReference(ctx context.Context, reference string) (*order.Order, error) {
	_ = ctx

	if reference == "" {
		return nil, order.ErrOrderNotFound
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, o := range r.orders {
		if o.PaymentReference == reference {
			return cloneOrder(o), nil
		}
	}
	return nil, order.ErrOrderNotFound
}

func (r *OrderRepository) List(ctx context.Context, f order.Filter) ([]order.Order, int, error) {
	_ = ctx

	r.mu.RLock()
	defer r.mu.RUnlock()

	matched := make([]order.Order, 0)
	for _, o := range r.orders {
		if f.UserID != uuid.Nil && o.UserID != f.UserID {
			continue
		}
		if f.Status != "" && o.Status != f.Status {
			continue
		}
		if f.PaymentStatus != "" && o.PaymentStatus != f.PaymentStatus {
			continue
		}
		matched = append(matched, *cloneOrder(o))
	}

	sort.Slice(matched, func(i, j int) bool {
		return matched[i].CreatedAt.After(matched[j].CreatedAt)
	})

	total := len(matched)
	limit := f.Limit
	if limit <= 0 {
		limit = 20
	}
	page := f.Page
	if page <= 0 {
		page = 1
	}
	start := (page - 1) * limit
	if start >= total {
		return []order.Order{}, total, nil
	}
	end := start + limit
	if end > total {
		end = total
	}
	return matched[start:end], total, nil
}

func (r *OrderRepository) TransitionStatus(ctx context.Context, id uuid.UUID, from, to order.Status, event order.StatusEvent) error {
	_ = ctx

	r.mu.Lock()
	defer r.mu.Unlock()

	o, ok := r.orders[id]
	if !ok {
		return order.ErrOrderNotFound
	}
	if o.Status != from {
		return order.ErrStateConflict
	}

	o.Status = to
	o.StatusHistory = append(o.StatusHistory, event)
	o.UpdatedAt = time.Now().UTC()
	return nil
}

func (r *OrderRepository) SetPaymentState(ctx context.Context, id uuid.UUID, from, to order.PaymentStatus, reference string, details map[string]any) error {
	_ = ctx

	r.mu.Lock()
	defer r.mu.Unlock()

	o, ok := r.orders[id]
	if !ok {
		return order.ErrOrderNotFound
	}
	if o.PaymentStatus != from {
		return order.ErrStateConflict
	}

	o.PaymentStatus = to
	o.PaymentReference = reference
	if o.PaymentDetails == nil {
		o.PaymentDetails = map[string]any{}
	}
	for k, v := range details {
		o.PaymentDetails[k] = v
	}
	o.UpdatedAt = time.Now().UTC()
	return nil
}

func (r *OrderRepository) Delete(ctx context.Context, id uuid.UUID) (order.Status, error) {
	_ = ctx

	r.mu.Lock()
	defer r.mu.Unlock()

	o, ok := r.orders[id]
	if !ok {
		return "", order.ErrOrderNotFound
	}
	delete(r.orders, id)
	return o.Status, nil
}

func (r *OrderRepository) Stats(ctx context.Context) (*order.Stats, error) {
	_ = ctx

	r.mu.RLock()
	defer r.mu.RUnlock()

	counts := make(map[order.Status]*order.StatusCount)
	for _, o := range r.orders {
		sc, ok := counts[o.Status]
		if !ok {
			sc = &order.StatusCount{Status: o.Status}
			counts[o.Status] = sc
		}
		sc.Count++
		if o.PaymentStatus == order.PaymentPaid {
			sc.Revenue += o.TotalAmount
		}
	}

	stats := &order.Stats{ByStatus: make([]order.StatusCount, 0, len(counts))}
	for _, sc := range counts {
		stats.ByStatus = append(stats.ByStatus, *sc)
		stats.TotalOrders += sc.Count
		stats.TotalRevenue += sc.Revenue
	}
	sort.Slice(stats.ByStatus, func(i, j int) bool {
		return stats.ByStatus[i].Status < stats.ByStatus[j].Status
	})
	return stats, nil
}
