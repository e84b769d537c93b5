package transport

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/cyberspacetechhub/gadget-store-sub001/internal/cart"
	"github.com/cyberspacetechhub/gadget-store-sub001/internal/handler"
	"github.com/cyberspacetechhub/gadget-store-sub001/internal/observability"
	"github.com/cyberspacetechhub/gadget-store-sub001/internal/order"
	"github.com/cyberspacetechhub/gadget-store-sub001/internal/payment"
	"github.com/cyberspacetechhub/gadget-store-sub001/internal/product"
)

type Services struct {
	Products product.Service
	Carts    cart.Service
	Orders   order.Service
	Payments payment.Service
}

func NewRouter(svcs Services) *chi.Mux {
	r := chi.NewRouter()
	r.Use(observability.Middleware)

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("OK"))
	})
	r.Method(http.MethodGet, "/metrics", observability.Handler())

	products := handler.NewProductHandler(svcs.Products)
	r.Route("/products", func(r chi.Router) {
		r.Post("/", products.Create)
		r.Get("/low-stock", products.LowStock)
		r.Get("/{id}", products.GetByID)
		r.Put("/{id}", products.Update)
		r.Delete("/{id}", products.Delete)
	})

	carts := handler.NewCartHandler(svcs.Carts)
	r.Route("/cart", func(r chi.Router) {
		r.Get("/", carts.Get)
		r.Delete("/", carts.Clear)
		r.Get("/summary", carts.Summary)
		r.Post("/items", carts.AddItem)
		r.Put("/items/{productID}", carts.UpdateItem)
		r.Delete("/items/{productID}", carts.RemoveItem)
		r.Post("/sync-prices", carts.SyncPrices)
		r.Post("/migrate", carts.MigrateGuestCart)
	})

	orders := handler.NewOrderHandler(svcs.Orders)
	payments := handler.NewPaymentHandler(svcs.Payments)
	r.Route("/orders", func(r chi.Router) {
		r.Post("/", orders.Checkout)
		r.Get("/", orders.List)
		r.Get("/my", orders.ListMine)
		r.Get("/stats", orders.Stats)
		r.Post("/bulk-delete", orders.BulkDelete)
		r.Get("/{id}", orders.GetByID)
		r.Patch("/{id}/status", orders.UpdateStatus)
		r.Patch("/{id}/payment-status", payments.UpdatePaymentStatus)
		r.Post("/{id}/cancel", orders.Cancel)
		r.Delete("/{id}", orders.Delete)
	})

	r.Route("/payments", func(r chi.Router) {
		r.Post("/initialize", payments.Initialize)
		r.Get("/verify/{reference}", payments.Verify)
		r.Post("/{orderID}/confirm-cod", payments.ConfirmCashOnDelivery)
		r.Post("/webhook", payments.Webhook)
	})

	return r
}
