package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/cyberspacetechhub/gadget-store-sub001/internal/cart"
	"github.com/cyberspacetechhub/gadget-store-sub001/internal/config"
	"github.com/cyberspacetechhub/gadget-store-sub001/internal/db"
	"github.com/cyberspacetechhub/gadget-store-sub001/internal/memory"
	"github.com/cyberspacetechhub/gadget-store-sub001/internal/order"
	"github.com/cyberspacetechhub/gadget-store-sub001/internal/payment"
	"github.com/cyberspacetechhub/gadget-store-sub001/internal/product"
	"github.com/cyberspacetechhub/gadget-store-sub001/internal/transport"
)

func main() {
	zerolog.SetGlobalLevel(zerolog.InfoLevel)
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})
	log.Logger = log.With().Str("service", "gadget-store").Logger()

	log.Info().Msg("Gadget store starting...")

	cfg, err := config.NewConfig(".env")
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load config")
	}

	var (
		productRepo product.Repository
		cartRepo    cart.Repository
		orderRepo   order.Repository
	)

	switch cfg.App.Store {
	case "memory":
		log.Warn().Msg("Using in-memory store, data will not survive a restart")
		productRepo = memory.NewProductRepository()
		cartRepo = memory.NewCartRepository()
		orderRepo = memory.NewOrderRepository()
	default:
		pg, err := db.New(context.Background(), cfg.Postgres)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to connect to database")
		}
		defer pg.Close()
		productRepo = product.NewRepository(pg.Pool)
		cartRepo = cart.NewRepository(pg.Pool)
		orderRepo = order.NewRepository(pg.Pool)
	}

	productSvc := product.NewService(productRepo)
	cartSvc := cart.NewService(cartRepo, productSvc)
	orderSvc := order.NewService(orderRepo, productSvc, productSvc, cartSvc, order.Pricing{
		ShippingFee: cfg.Pricing.ShippingFee,
		TaxRate:     cfg.Pricing.TaxRate,
	})
	provider := payment.NewPaystackProvider(cfg.Payment.ProviderBaseURL, cfg.Payment.SecretKey)
	paymentSvc := payment.NewService(orderSvc, provider, cfg.Payment.SecretKey)

	router := transport.NewRouter(transport.Services{
		Products: productSvc,
		Carts:    cartSvc,
		Orders:   orderSvc,
		Payments: paymentSvc,
	})

	srv := &http.Server{
		Addr:         ":" + cfg.App.Port,
		Handler:      router,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		log.Info().Str("port", cfg.App.Port).Msg("Starting HTTP server")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("Server failed")
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan
	log.Info().Msg("Shutting down...")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.Fatal().Err(err).Msg("Shutdown failed")
	}
	log.Info().Msg("Server stopped")
}
