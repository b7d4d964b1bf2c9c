package main

import (
	"context"
	"errors"
	"math/big"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/TimTinkers/Item-Ascension-Server/internal/application/checkout"
	"github.com/TimTinkers/Item-Ascension-Server/internal/application/fulfillment"
	"github.com/TimTinkers/Item-Ascension-Server/internal/application/identity"
	"github.com/TimTinkers/Item-Ascension-Server/internal/config"
	"github.com/TimTinkers/Item-Ascension-Server/internal/domain/order"
	"github.com/TimTinkers/Item-Ascension-Server/internal/domain/payment"
	"github.com/TimTinkers/Item-Ascension-Server/internal/infrastructure/enjin"
	"github.com/TimTinkers/Item-Ascension-Server/internal/infrastructure/ether"
	"github.com/TimTinkers/Item-Ascension-Server/internal/infrastructure/game"
	httptransport "github.com/TimTinkers/Item-Ascension-Server/internal/infrastructure/http"
	"github.com/TimTinkers/Item-Ascension-Server/internal/infrastructure/id"
	"github.com/TimTinkers/Item-Ascension-Server/internal/infrastructure/paypal"
	"github.com/TimTinkers/Item-Ascension-Server/internal/infrastructure/sqlite"
	"github.com/TimTinkers/Item-Ascension-Server/internal/pkg/logging"
	"github.com/TimTinkers/Item-Ascension-Server/internal/platform/session"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	logger := logging.MustNewLogger(cfg.Application, cfg.Env)
	defer func() { _ = logger.Sync() }()
	zap.ReplaceGlobals(logger)

	checkoutRequests := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "checkout_requests_total",
			Help: "Total number of checkout attempts.",
		},
		[]string{"outcome"},
	)
	deliveryFailures := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fulfillment_delivery_failures_total",
			Help: "Count of delivery steps that failed after payment settled.",
		},
		[]string{"step"},
	)
	fulfillmentDuration := prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "fulfillment_duration_seconds",
			Help:    "Duration of order delivery in seconds.",
			Buckets: prometheus.DefBuckets,
		},
	)
	httpRequests := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests.",
		},
		[]string{"method", "route", "status"},
	)
	httpDuration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Duration of HTTP request handling in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route"},
	)
	prometheus.MustRegister(checkoutRequests, deliveryFailures, fulfillmentDuration, httpRequests, httpDuration)

	db, err := sqlite.Open(cfg.DatabasePath)
	if err != nil {
		logger.Fatal("storage_open_failed", zap.Error(err))
	}
	defer func() { _ = db.Close() }()

	catalogRepo := sqlite.NewCatalog(db, cfg.NetworkSuffix)
	ledger := sqlite.NewLedger(db)
	addressBook := sqlite.NewAddressBook(db)

	gameClient := game.NewClient(game.Config{
		LoginURL:      cfg.GameLoginURL,
		ProfileURL:    cfg.GameProfileURL,
		InventoryURL:  cfg.GameInventoryURL,
		RemoveItemURL: cfg.GameRemoveItemURL,
	})
	platformClient := enjin.NewClient(cfg.PlatformURL, cfg.GameAppID)

	bootstrapCtx, cancelBootstrap := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancelBootstrap()
	admin, err := session.Bootstrap(bootstrapCtx, gameClient, platformClient, session.Credentials{
		GameUsername:  cfg.GameAdminUsername,
		GamePassword:  cfg.GameAdminPassword,
		PlatformEmail: cfg.PlatformAdminEmail,
		PlatformPass:  cfg.PlatformAdminPassword,
		AppID:         cfg.GameAppID,
	})
	if err != nil {
		logger.Fatal("session_bootstrap_failed", zap.Error(err))
	}
	logger.Info("session_bootstrapped",
		zap.Int64("app_id", admin.AppID),
		zap.String("platform_address", admin.TokenAdminAddress),
	)

	adapters := make(map[order.Method]payment.Adapter)
	var paypalAdapter payment.Adapter
	if cfg.PayPalEnabled {
		paypalAdapter = paypal.NewAdapter(paypal.Config{
			BaseURL:       cfg.PayPalBaseURL,
			ClientID:      cfg.PayPalClientID,
			Secret:        cfg.PayPalSecret,
			Currency:      cfg.Currency,
			BrandName:     cfg.Application,
			Description:   "Digital item purchase",
			AscensionCost: cfg.AscensionUnitCost(),
		})
		adapters[order.MethodPayPal] = paypalAdapter
	}
	var etherAdapter payment.Adapter
	if cfg.EtherEnabled {
		weiPerUnit, ok := new(big.Int).SetString(cfg.WeiPerAscension, 10)
		if !ok {
			logger.Fatal("invalid_wei_per_ascension", zap.String("value", cfg.WeiPerAscension))
		}
		etherAdapter = ether.NewAdapter(ether.Config{
			ContractAddress: cfg.PaymentContractAddress,
			WeiPerUnit:      weiPerUnit,
			GasLimit:        cfg.EtherGasLimit,
		})
		adapters[order.MethodEther] = etherAdapter
	}

	checkoutSvc := checkout.NewService(catalogRepo, ledger, gameClient, adapters,
		id.NewUUIDGenerator(), checkout.Features{
			StoreEnabled:     cfg.StoreEnabled,
			CheckoutEnabled:  cfg.CheckoutEnabled,
			AscensionEnabled: cfg.AscensionEnabled,
			PayPalEnabled:    cfg.PayPalEnabled,
			EtherEnabled:     cfg.EtherEnabled,
			AscensionCost:    cfg.AscensionUnitCost(),
		}, checkoutRequests)

	engine := fulfillment.NewEngine(ledger, catalogRepo, gameClient, platformClient,
		addressBook, admin, cfg.Currency, deliveryFailures, fulfillmentDuration)

	// Approval callbacks only exist on the processor rail; the crypto rail's
	// Verify reports unsupported and settlement is reconciled externally.
	verifyAdapter := paypalAdapter
	if verifyAdapter == nil {
		verifyAdapter = etherAdapter
	}
	fulfillmentSvc := fulfillment.NewService(engine, ledger, verifyAdapter)

	identitySvc := identity.NewService(gameClient, platformClient, catalogRepo, addressBook, admin)

	verifier, err := httptransport.NewTokenVerifier(cfg.GameTokenPublicKey)
	if err != nil {
		logger.Fatal("token_verifier_failed", zap.Error(err))
	}

	handler := httptransport.NewHandler(checkoutSvc, fulfillmentSvc, identitySvc, verifier, logger,
		&httptransport.Metrics{Requests: httpRequests, Duration: httpDuration})

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.Handle("/", handler.Router())

	server := &http.Server{
		Addr:    cfg.ListenAddr,
		Handler: mux,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go func() {
		logger.Info("http_server_start",
			zap.String("addr", server.Addr),
		)
		err := server.ListenAndServe()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http_server_error",
				zap.Error(err),
			)
		}
	}()

	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("http_server_shutdown_error",
			zap.Error(err),
		)
	} else {
		logger.Info("http_server_stopped")
	}
}
