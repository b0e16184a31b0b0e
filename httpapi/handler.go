// Package httpapi exposes the administrative HTTP surface and maps engine
// errors to status codes. All successful responses are empty-bodied.
package httpapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/jacentio/carrel/catalog"
	"github.com/jacentio/carrel/guard"
	"github.com/jacentio/carrel/store"
)

var (
	httpRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "carrel_http_requests_total",
		Help: "Total HTTP requests processed, labeled by status code",
	}, []string{"method", "endpoint", "status"})

	httpRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "carrel_http_request_duration_seconds",
		Help:    "Latency distribution of HTTP requests",
		Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
	}, []string{"method", "endpoint"})
)

// Handler serves the administrative routes.
type Handler struct {
	engine *catalog.Engine
	logger *slog.Logger
}

// NewHandler creates a Handler on the given engine.
func NewHandler(engine *catalog.Engine, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{engine: engine, logger: logger}
}

// CreateBook handles POST /books. The guard has already enforced
// title/publisher/author presence.
func (h *Handler) CreateBook(w http.ResponseWriter, r *http.Request) {
	timer := prometheus.NewTimer(httpRequestDuration.WithLabelValues("POST", "/books"))
	defer timer.ObserveDuration()

	fields := guard.Fields(r)
	_, err := h.engine.CreateBook(r.Context(),
		asString(fields["title"]),
		asString(fields["publisher"]),
		asString(fields["author"]),
	)
	if err != nil {
		h.respondUnknown(w, err, "POST", "/books")
		return
	}
	h.respondEmpty(w, http.StatusCreated, "POST", "/books")
}

// UpdateBook handles PUT /books/{id}. The guard has already rejected the
// engine-managed counter fields.
func (h *Handler) UpdateBook(w http.ResponseWriter, r *http.Request) {
	timer := prometheus.NewTimer(httpRequestDuration.WithLabelValues("PUT", "/books/{id}"))
	defer timer.ObserveDuration()

	err := h.engine.UpdateBook(r.Context(), mux.Vars(r)["id"], guard.Fields(r))
	switch {
	case err == nil:
		h.respondEmpty(w, http.StatusOK, "PUT", "/books/{id}")
	case errors.Is(err, catalog.ErrForbiddenField):
		h.respondError(w, http.StatusBadRequest, err.Error(), "PUT", "/books/{id}")
	case errors.Is(err, store.ErrNotFound):
		h.respondError(w, http.StatusNotFound, "book not found", "PUT", "/books/{id}")
	default:
		h.respondUnknown(w, err, "PUT", "/books/{id}")
	}
}

// DeleteBook handles DELETE /books/{id}: the book and every dependent
// stock and reservation go in one cascade.
func (h *Handler) DeleteBook(w http.ResponseWriter, r *http.Request) {
	timer := prometheus.NewTimer(httpRequestDuration.WithLabelValues("DELETE", "/books/{id}"))
	defer timer.ObserveDuration()

	err := h.engine.DeleteBook(r.Context(), mux.Vars(r)["id"])
	switch {
	case err == nil:
		h.respondEmpty(w, http.StatusOK, "DELETE", "/books/{id}")
	case errors.Is(err, store.ErrNotFound):
		h.respondError(w, http.StatusNotFound, "book not found", "DELETE", "/books/{id}")
	default:
		h.respondUnknown(w, err, "DELETE", "/books/{id}")
	}
}

// AddStock handles POST /books/{id}/stocks. Any failure, a missing book
// included, reports 400: this route's clients distinguish only
// success from failure.
func (h *Handler) AddStock(w http.ResponseWriter, r *http.Request) {
	timer := prometheus.NewTimer(httpRequestDuration.WithLabelValues("POST", "/books/{id}/stocks"))
	defer timer.ObserveDuration()

	fields := guard.Fields(r)
	_, err := h.engine.AddStock(r.Context(), mux.Vars(r)["id"], catalog.Stock{
		Name:      asString(fields["name"]),
		StudentID: asString(fields["studentId"]),
		Price:     asInt(fields["price"]),
		State:     asString(fields["state"]),
	})
	if err != nil {
		if !errors.Is(err, catalog.ErrBookNotFound) {
			h.logger.Error("add stock failed", "error", err)
		}
		h.respondError(w, http.StatusBadRequest, "could not add stock", "POST", "/books/{id}/stocks")
		return
	}
	h.respondEmpty(w, http.StatusCreated, "POST", "/books/{id}/stocks")
}

// UpdateStock handles PUT /stocks/{id}. The guard has already rejected the
// immutable bookId.
func (h *Handler) UpdateStock(w http.ResponseWriter, r *http.Request) {
	timer := prometheus.NewTimer(httpRequestDuration.WithLabelValues("PUT", "/stocks/{id}"))
	defer timer.ObserveDuration()

	err := h.engine.UpdateStock(r.Context(), mux.Vars(r)["id"], guard.Fields(r))
	switch {
	case err == nil:
		h.respondEmpty(w, http.StatusOK, "PUT", "/stocks/{id}")
	case errors.Is(err, catalog.ErrForbiddenField):
		h.respondError(w, http.StatusBadRequest, err.Error(), "PUT", "/stocks/{id}")
	case errors.Is(err, store.ErrNotFound):
		h.respondError(w, http.StatusNotFound, "stock not found", "PUT", "/stocks/{id}")
	default:
		h.respondUnknown(w, err, "PUT", "/stocks/{id}")
	}
}

// DeleteStock handles DELETE /books/{bookId}/stocks/{id}. A bookId that
// doesn't match the stock's actual owner reports 404: no stock exists
// under that book with that id.
func (h *Handler) DeleteStock(w http.ResponseWriter, r *http.Request) {
	timer := prometheus.NewTimer(httpRequestDuration.WithLabelValues("DELETE", "/books/{bookId}/stocks/{id}"))
	defer timer.ObserveDuration()

	vars := mux.Vars(r)
	err := h.engine.DeleteStock(r.Context(), vars["bookId"], vars["id"])
	switch {
	case err == nil:
		h.respondEmpty(w, http.StatusOK, "DELETE", "/books/{bookId}/stocks/{id}")
	case errors.Is(err, store.ErrNotFound), errors.Is(err, catalog.ErrBookMismatch):
		h.respondError(w, http.StatusNotFound, "stock not found", "DELETE", "/books/{bookId}/stocks/{id}")
	default:
		h.respondUnknown(w, err, "DELETE", "/books/{bookId}/stocks/{id}")
	}
}

// UpdateReservation handles PUT /reservations/{id}. The guard has already
// rejected bookId, isCancle, and title; a supplied password reaches the
// store only as a hash.
func (h *Handler) UpdateReservation(w http.ResponseWriter, r *http.Request) {
	timer := prometheus.NewTimer(httpRequestDuration.WithLabelValues("PUT", "/reservations/{id}"))
	defer timer.ObserveDuration()

	err := h.engine.UpdateReservation(r.Context(), mux.Vars(r)["id"], guard.Fields(r))
	switch {
	case err == nil:
		h.respondEmpty(w, http.StatusOK, "PUT", "/reservations/{id}")
	case errors.Is(err, catalog.ErrForbiddenField), errors.Is(err, catalog.ErrInvalidField):
		h.respondError(w, http.StatusBadRequest, err.Error(), "PUT", "/reservations/{id}")
	case errors.Is(err, store.ErrNotFound):
		h.respondError(w, http.StatusNotFound, "reservation not found", "PUT", "/reservations/{id}")
	default:
		h.respondUnknown(w, err, "PUT", "/reservations/{id}")
	}
}

// CancelReservation handles DELETE /books/{bookId}/reservations/{id}.
// This is the one route with differentiated error messages; every failure
// keeps the legacy 421 status existing admin clients depend on.
func (h *Handler) CancelReservation(w http.ResponseWriter, r *http.Request) {
	timer := prometheus.NewTimer(httpRequestDuration.WithLabelValues("DELETE", "/books/{bookId}/reservations/{id}"))
	defer timer.ObserveDuration()

	vars := mux.Vars(r)
	err := h.engine.CancelReservation(r.Context(), vars["bookId"], vars["id"])
	switch {
	case err == nil:
		h.respondEmpty(w, http.StatusOK, "DELETE", "/books/{bookId}/reservations/{id}")
	case errors.Is(err, store.ErrNotFound):
		h.respondError(w, http.StatusMisdirectedRequest, "reservation not found", "DELETE", "/books/{bookId}/reservations/{id}")
	case errors.Is(err, catalog.ErrAlreadyCancelled):
		h.respondError(w, http.StatusMisdirectedRequest, "already cancelled", "DELETE", "/books/{bookId}/reservations/{id}")
	default:
		h.logger.Error("cancel reservation failed", "error", err)
		h.respondError(w, http.StatusMisdirectedRequest, "unknown error", "DELETE", "/books/{bookId}/reservations/{id}")
	}
}

// --- helpers ---

func (h *Handler) respondEmpty(w http.ResponseWriter, code int, method, endpoint string) {
	httpRequestsTotal.WithLabelValues(method, endpoint, strconv.Itoa(code)).Inc()
	w.WriteHeader(code)
}

func (h *Handler) respondError(w http.ResponseWriter, code int, msg, method, endpoint string) {
	httpRequestsTotal.WithLabelValues(method, endpoint, strconv.Itoa(code)).Inc()
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(map[string]string{"error": msg})
}

func (h *Handler) respondUnknown(w http.ResponseWriter, err error, method, endpoint string) {
	h.logger.Error("request failed", "method", method, "endpoint", endpoint, "error", err)
	h.respondError(w, http.StatusInternalServerError, "internal error", method, endpoint)
}

func asString(v any) string {
	switch s := v.(type) {
	case string:
		return s
	case nil:
		return ""
	default:
		return fmt.Sprint(s)
	}
}

func asInt(v any) int {
	switch n := v.(type) {
	case float64:
		return int(n)
	case int:
		return n
	case string:
		i, _ := strconv.Atoi(n)
		return i
	default:
		return 0
	}
}
