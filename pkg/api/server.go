package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"
	"go.uber.org/zap"

	"github.com/uhyunpark/hyperflash/pkg/order"
	"github.com/uhyunpark/hyperflash/pkg/storage"
	"github.com/uhyunpark/hyperflash/pkg/util"
)

const submittedMessage = "Order received and queued for execution"

// OrderService is the intake the server exposes.
type OrderService interface {
	SubmitOrder(ctx context.Context, req order.Request) (order.Order, error)
	GetOrder(ctx context.Context, id string) (order.Order, error)
}

// Server handles the REST API and the order status stream.
type Server struct {
	orders  OrderService
	gateway *Gateway
	router  *mux.Router
	origins []string
	gather  prometheus.Gatherer
	log     *zap.SugaredLogger

	srv *http.Server
}

type ServerConfig struct {
	Orders         OrderService
	Gateway        *Gateway
	AllowedOrigins []string
	// Gatherer backs /metrics; nil serves the default registry.
	Gatherer prometheus.Gatherer
	Logger   *zap.SugaredLogger
}

func NewServer(cfg ServerConfig) *Server {
	s := &Server{
		orders:  cfg.Orders,
		gateway: cfg.Gateway,
		router:  mux.NewRouter(),
		origins: cfg.AllowedOrigins,
		gather:  cfg.Gatherer,
		log:     util.OrNop(cfg.Logger),
	}
	if s.gather == nil {
		s.gather = prometheus.DefaultGatherer
	}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	api := s.router.PathPrefix("/api").Subrouter()

	api.HandleFunc("/orders", s.handleSubmitOrder).Methods("POST")
	api.HandleFunc("/orders/{id}", s.handleGetOrder).Methods("GET")

	// Status stream
	api.HandleFunc("/ws/orders", s.gateway.HandleWebSocket).Methods("GET")

	s.router.HandleFunc("/health", s.handleHealth).Methods("GET")
	s.router.Handle("/metrics", promhttp.HandlerFor(s.gather, promhttp.HandlerOpts{})).Methods("GET")
}

// Handler returns the routes wrapped with CORS.
func (s *Server) Handler() http.Handler {
	origins := s.origins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	c := cors.New(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Content-Type", "Authorization"},
	})
	return c.Handler(s.router)
}

// Start serves on addr until Shutdown.
func (s *Server) Start(addr string) error {
	s.srv = &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.log.Infow("api_listening", "addr", addr)
	if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	if s.srv == nil {
		return nil
	}
	return s.srv.Shutdown(ctx)
}

// ==============================
// REST Handlers
// ==============================

func (s *Server) handleSubmitOrder(w http.ResponseWriter, r *http.Request) {
	var req SubmitOrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid order data", err.Error())
		return
	}

	o, err := s.orders.SubmitOrder(r.Context(), order.Request{
		AssetIn:  req.AssetIn,
		AssetOut: req.AssetOut,
		Quantity: req.Quantity,
	})
	var verr *order.ValidationError
	switch {
	case errors.As(err, &verr):
		respondError(w, http.StatusBadRequest, "Invalid order data", verr.Error())
		return
	case err != nil:
		s.log.Errorw("submit_order_failed", "order_id", o.ID, "err", err)
		respondError(w, http.StatusInternalServerError, "Order could not be queued", err.Error())
		return
	}

	respondJSONStatus(w, http.StatusCreated, SubmitOrderResponse{
		OrderID: o.ID,
		Status:  string(o.State),
		Message: submittedMessage,
	})
}

func (s *Server) handleGetOrder(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	o, err := s.orders.GetOrder(r.Context(), id)
	if errors.Is(err, storage.ErrNotFound) {
		respondError(w, http.StatusNotFound, "order not found", id)
		return
	}
	if err != nil {
		respondError(w, http.StatusInternalServerError, "order lookup failed", err.Error())
		return
	}

	respondJSON(w, toOrderInfo(o))
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, map[string]string{"status": "ok"})
}

// ==============================
// Helper Functions
// ==============================

func toOrderInfo(o order.Order) OrderInfo {
	return OrderInfo{
		OrderID:             o.ID,
		AssetIn:             o.AssetIn,
		AssetOut:            o.AssetOut,
		Quantity:            o.Quantity,
		Side:                string(o.Side),
		Type:                string(o.Type),
		Status:              string(o.State),
		ExecutionPrice:      o.ExecutionPrice,
		SettlementReference: o.SettlementRef,
		Source:              o.QuoteSource,
		FailureReason:       o.FailureReason,
		Attempts:            o.Attempts,
		CreatedAt:           o.CreatedAt.UnixMilli(),
		UpdatedAt:           o.UpdatedAt.UnixMilli(),
	}
}

func respondJSON(w http.ResponseWriter, data any) {
	respondJSONStatus(w, http.StatusOK, data)
}

func respondJSONStatus(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, errMsg string, message string) {
	respondJSONStatus(w, status, ErrorResponse{
		Error:   errMsg,
		Message: message,
	})
}
