// Package httpapi — REST API маркетплейса: каталог, пользователи, покупки и отчёты по заказам.
package httpapi

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/marketplace/internal/metrics"
	"github.com/vladislavdragonenkov/marketplace/internal/service/catalog"
	"github.com/vladislavdragonenkov/marketplace/internal/service/fulfillment"
	"github.com/vladislavdragonenkov/marketplace/internal/service/idempotency"
	"github.com/vladislavdragonenkov/marketplace/internal/version"
)

const (
	defaultRequestTimeout = 15 * time.Second
	maxBodyBytes          = 1 << 20

	headerUserID         = "X-User-Id"
	headerIdempotencyKey = "Idempotency-Key"
	headerReplayed       = "Idempotent-Replayed"
)

// Option настраивает API.
type Option func(*API)

// WithLogger задаёт логгер запросов.
func WithLogger(logger *log.Entry) Option {
	return func(a *API) {
		if logger != nil {
			a.logger = logger
		}
	}
}

// WithGuard включает Idempotency-Key для покупок.
func WithGuard(guard *idempotency.Guard) Option {
	return func(a *API) {
		a.guard = guard
	}
}

// WithMetrics подключает метрики запросов.
func WithMetrics(m *metrics.HTTPMetrics) Option {
	return func(a *API) {
		a.metrics = m
	}
}

// WithRequestTimeout ограничивает время обработки одного запроса.
func WithRequestTimeout(timeout time.Duration) Option {
	return func(a *API) {
		if timeout > 0 {
			a.timeout = timeout
		}
	}
}

// WithBuild задаёт сведения о сборке для /v1/version.
func WithBuild(build version.Build) Option {
	return func(a *API) {
		a.build = build
	}
}

// API связывает HTTP-маршруты с сервисами каталога и покупок.
type API struct {
	catalog   *catalog.Service
	purchases *fulfillment.Service
	guard     *idempotency.Guard
	logger    *log.Entry
	metrics   *metrics.HTTPMetrics
	timeout   time.Duration
	build     version.Build
}

// New создаёт API. Без WithGuard заголовок Idempotency-Key игнорируется.
func New(catalogSvc *catalog.Service, purchases *fulfillment.Service, opts ...Option) *API {
	a := &API{
		catalog:   catalogSvc,
		purchases: purchases,
		logger:    log.WithField("component", "http"),
		timeout:   defaultRequestTimeout,
		build:     version.Current(),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Routes возвращает роутер со всеми маршрутами /v1.
func (a *API) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID, middleware.RealIP, a.observe, middleware.Recoverer)
	r.Use(middleware.Timeout(a.timeout))

	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusNotFound, errorBody{Error: "route not found"})
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusMethodNotAllowed, errorBody{Error: "method not allowed"})
	})

	r.Route("/v1", func(r chi.Router) {
		r.Get("/version", a.getVersion)

		r.Post("/users", a.registerUser)
		r.Get("/users", a.listUsers)
		r.Get("/users/email/{email}", a.getUserByEmail)
		r.Get("/users/{id}", a.getUser)
		r.Post("/auth/login", a.login)

		r.Route("/products", func(r chi.Router) {
			r.Get("/", a.listProducts)
			r.Post("/", a.createProduct)
			r.Get("/{id}", a.getProduct)
			r.Put("/{id}", a.replaceProduct)
			r.Delete("/{id}", a.deleteProduct)
			r.Get("/{id}/owner/{sellerId}", a.productOwnership)
		})

		r.Route("/orders", func(r chi.Router) {
			r.Post("/", a.purchase)
			r.Get("/", a.listOrders)
			r.Get("/{id}", a.getOrder)
		})

		r.Get("/consumers/{id}/orders", a.consumerOrders)
		r.Get("/sellers/{id}/orders", a.sellerOrders)
		r.Get("/sellers/{id}/products", a.sellerProducts)
	})
	return r
}

// observe пишет access-лог и метрики по шаблону маршрута.
func (a *API) observe(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		next.ServeHTTP(ww, r)

		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		route := ""
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			route = rctx.RoutePattern()
		}
		elapsed := time.Since(start)
		a.metrics.ObserveRequest(route, r.Method, status, elapsed)

		entry := a.logger.WithFields(log.Fields{
			"request_id":  middleware.GetReqID(r.Context()),
			"method":      r.Method,
			"path":        r.URL.Path,
			"route":       route,
			"status":      status,
			"bytes":       ww.BytesWritten(),
			"duration_ms": elapsed.Milliseconds(),
		})
		switch {
		case status >= http.StatusInternalServerError:
			entry.Warn("HTTP request failed")
		default:
			entry.Debug("HTTP request served")
		}
	})
}

func (a *API) getVersion(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, a.build)
}
