package httpapi

import (
	"net/http"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/jacentio/carrel/guard"
)

// NewRouter wires the administrative routes with their field guards, plus
// health and metrics endpoints.
func NewRouter(h *Handler) *mux.Router {
	r := mux.NewRouter()

	r.Handle("/metrics", promhttp.Handler())
	r.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"ok"}`))
	})

	r.Handle("/books",
		guard.RequireFields("title", "publisher", "author")(http.HandlerFunc(h.CreateBook))).Methods("POST")
	r.Handle("/books/{id}",
		guard.ForbidFields("stockCount", "reservationCount")(http.HandlerFunc(h.UpdateBook))).Methods("PUT")
	r.HandleFunc("/books/{id}", h.DeleteBook).Methods("DELETE")

	r.Handle("/books/{id}/stocks",
		guard.RequireFields("name", "studentId", "price", "state")(http.HandlerFunc(h.AddStock))).Methods("POST")
	r.Handle("/stocks/{id}",
		guard.ForbidFields("bookId")(http.HandlerFunc(h.UpdateStock))).Methods("PUT")
	r.HandleFunc("/books/{bookId}/stocks/{id}", h.DeleteStock).Methods("DELETE")

	r.Handle("/reservations/{id}",
		guard.ForbidFields("bookId", "isCancle", "title")(http.HandlerFunc(h.UpdateReservation))).Methods("PUT")
	r.HandleFunc("/books/{bookId}/reservations/{id}", h.CancelReservation).Methods("DELETE")

	return r
}
