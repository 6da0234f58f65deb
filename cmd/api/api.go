package main

import (
	"context"
	"errors"
	"expvar"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"paysync/docs" //this is required to generate swagger docs
	"paysync/internal/auth"
	"paysync/internal/events"
	"paysync/internal/ratelimiter"
	"paysync/internal/reconcile"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	httpSwagger "github.com/swaggo/http-swagger/v2"
	"go.uber.org/zap"
)

type application struct {
	config        config
	logger        *zap.SugaredLogger
	engine        *reconcile.Engine
	sweeper       *reconcile.Sweeper
	publisher     events.Publisher
	authenticator auth.Authenticator
	rateLimiter   ratelimiter.Limiter
}

type config struct {
	addr             string
	db               dbConfig
	env              string
	apiURL           string
	auth             authConfig
	stripe           stripeConfig
	processorTimeout time.Duration
	sweeper          sweeperConfig
	amqp             amqpConfig
	rateLimiter      ratelimiter.Config
}

type authConfig struct {
	apiKey string
	basic  basicConfig
	token  tokenConfig
}

type tokenConfig struct {
	secret string
	exp    time.Duration
	iss    string
}

type basicConfig struct {
	user string
	pass string
}

type dbConfig struct {
	driver       string // postgres, sqlite or memory
	addr         string
	maxOpenConns int
	maxIdleTime  string
}

type stripeConfig struct {
	secretKey     string
	webhookSecret string
}

type sweeperConfig struct {
	enabled     bool
	interval    time.Duration
	staleAfter  time.Duration
	batch       int
	concurrency int
}

type amqpConfig struct {
	url      string
	exchange string
}

func (app *application) mount() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"https://*", "http://*"},
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-API-Key", "X-CSRF-Token"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: false,
		MaxAge:           300, // Maximum value not ignored by any of major browsers
	}))

	//Set a timeout value on the request context (ctx), that will signal through ctx.Done() that the request has timed out and further processing should be stopped
	r.Use(middleware.Timeout(60 * time.Second))

	r.Route("/v1", func(r chi.Router) {
		r.With(app.BasicAuthMiddleware()).Get("/health", app.healthCheckHandler)
		docsURL := fmt.Sprintf("%s/swagger/doc.json", app.config.addr)
		r.Get("/swagger/*", httpSwagger.Handler(httpSwagger.URL(docsURL)))

		r.With(app.BasicAuthMiddleware()).Get("/debug/vars", expvar.Handler().ServeHTTP)

		// Authenticated by the processor's signature, not by caller credentials.
		r.Post("/webhooks/stripe", app.stripeWebhookHandler)

		r.Route("/payments", func(r chi.Router) {
			r.Use(app.CallerAuthMiddleware)
			r.Use(app.RateLimiterMiddleware)

			r.Post("/", app.createPaymentHandler)
			r.Get("/", app.listPaymentsHandler)
			r.Route("/{paymentID}", func(r chi.Router) {
				r.Get("/", app.getPaymentHandler)
				r.Post("/refund", app.refundPaymentHandler)
			})
		})
	})
	return r
}

func (app *application) run(mux http.Handler) error {
	// Docs
	docs.SwaggerInfo.Version = version
	docs.SwaggerInfo.Host = app.config.apiURL
	docs.SwaggerInfo.BasePath = "/v1"

	srv := &http.Server{
		Addr:         app.config.addr,
		Handler:      mux,
		WriteTimeout: time.Second * 30,
		ReadTimeout:  time.Second * 10,
		IdleTimeout:  time.Minute,
	}

	bgCtx, stopBackground := context.WithCancel(context.Background())
	defer stopBackground()
	sweeperDone := app.startSweeper(bgCtx)

	// Implementing graceful shutdown
	shutdown := make(chan error)

	go func() {
		quit := make(chan os.Signal, 1)

		signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
		s := <-quit

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		app.logger.Infow("signal caught", "signal", s.String())

		shutdown <- srv.Shutdown(ctx)
	}()

	app.logger.Infow("server has started", "addr", app.config.addr, "env", app.config.env)

	err := srv.ListenAndServe()
	if !errors.Is(err, http.ErrServerClosed) {
		return err
	}

	err = <-shutdown
	if err != nil {
		return err
	}

	stopBackground()
	<-sweeperDone
	if err := app.publisher.Close(); err != nil {
		app.logger.Warnw("closing event publisher", "error", err)
	}

	app.logger.Infow("server has stopped", "addr", app.config.addr, "env", app.config.env)

	return nil
}
