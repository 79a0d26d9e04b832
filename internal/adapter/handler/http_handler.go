package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/storekit/commerce-core/internal/core/domain"
	"github.com/storekit/commerce-core/internal/core/service"
)

type contextKey string

const userIDKey contextKey = "user_id"

// Handler is the HTTP facade over the commerce core. Authentication and
// authorization happen upstream; the facade trusts the X-User-ID header the
// gateway injects.
type Handler struct {
	carts  *service.CartService
	orders *service.OrderService
	ledger *service.Ledger
	logger *zap.Logger
}

func New(carts *service.CartService, orders *service.OrderService, ledger *service.Ledger, logger *zap.Logger) *Handler {
	return &Handler{
		carts:  carts,
		orders: orders,
		ledger: ledger,
		logger: logger,
	}
}

// Router assembles the route tree with the shared middleware stack.
func (h *Handler) Router(requestTimeout time.Duration) *chi.Mux {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(requestTimeout))

	r.Get("/health", h.HealthCheck)

	r.Group(func(r chi.Router) {
		r.Use(UserMiddleware)

		r.Route("/cart", func(r chi.Router) {
			r.Get("/", h.GetCart)
			r.Delete("/", h.ClearCart)
			r.Post("/items", h.AddItem)
			r.Put("/items/{productID}", h.UpdateItemQuantity)
			r.Delete("/items/{productID}", h.RemoveItem)
		})

		r.Post("/checkout", h.Checkout)

		r.Route("/orders/{orderID}", func(r chi.Router) {
			r.Get("/", h.GetOrder)
			r.Post("/cancel", h.CancelOrder)
		})
	})

	// Admin surface; the gateway restricts who reaches these routes.
	r.Patch("/orders/{orderID}/status", h.UpdateOrderStatus)
	r.Route("/inventory", func(r chi.Router) {
		r.Get("/alerts", h.LowStockAlerts)
		r.Post("/{productID}/adjust", h.AdjustInventory)
		r.Get("/{productID}", h.GetInventory)
		r.Get("/{productID}/changes", h.ChangeHistory)
	})

	return r
}

// UserMiddleware pulls the caller identity from the X-User-ID header.
func UserMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		userID := r.Header.Get("X-User-ID")
		if userID == "" {
			respondError(w, http.StatusUnauthorized, "unauthorized", "missing user identity")
			return
		}
		ctx := context.WithValue(r.Context(), userIDKey, userID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func userIDFrom(ctx context.Context) string {
	userID, _ := ctx.Value(userIDKey).(string)
	return userID
}

func (h *Handler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *Handler) GetCart(w http.ResponseWriter, r *http.Request) {
	cart, err := h.carts.Get(r.Context(), userIDFrom(r.Context()))
	if err != nil {
		h.respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, cart)
}

type AddItemRequest struct {
	ProductID string `json:"product_id"`
	Quantity  int    `json:"quantity"`
}

func (h *Handler) AddItem(w http.ResponseWriter, r *http.Request) {
	var req AddItemRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", "invalid JSON body")
		return
	}
	if req.ProductID == "" {
		respondError(w, http.StatusBadRequest, "invalid_product_id", "product_id is required")
		return
	}

	cart, err := h.carts.AddItem(r.Context(), userIDFrom(r.Context()), req.ProductID, req.Quantity)
	if err != nil {
		h.respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusCreated, cart)
}

type UpdateQuantityRequest struct {
	Quantity int `json:"quantity"`
}

func (h *Handler) UpdateItemQuantity(w http.ResponseWriter, r *http.Request) {
	productID := chi.URLParam(r, "productID")

	var req UpdateQuantityRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", "invalid JSON body")
		return
	}

	cart, err := h.carts.UpdateItemQuantity(r.Context(), userIDFrom(r.Context()), productID, req.Quantity)
	if err != nil {
		h.respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, cart)
}

func (h *Handler) RemoveItem(w http.ResponseWriter, r *http.Request) {
	productID := chi.URLParam(r, "productID")

	cart, err := h.carts.RemoveItem(r.Context(), userIDFrom(r.Context()), productID)
	if err != nil {
		h.respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, cart)
}

func (h *Handler) ClearCart(w http.ResponseWriter, r *http.Request) {
	if err := h.carts.Clear(r.Context(), userIDFrom(r.Context())); err != nil {
		h.respondServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type CheckoutRequest struct {
	RequestKey      string  `json:"request_key"`
	ShippingAddress string  `json:"shipping_address"`
	ShippingCost    float64 `json:"shipping_cost"`
	PaymentMethod   string  `json:"payment_method"`
}

func (h *Handler) Checkout(w http.ResponseWriter, r *http.Request) {
	var req CheckoutRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", "invalid JSON body")
		return
	}
	if req.PaymentMethod == "" {
		respondError(w, http.StatusBadRequest, "invalid_payment_method", "payment_method is required")
		return
	}

	shipping := domain.ShippingInfo{Address: req.ShippingAddress, Cost: req.ShippingCost}
	order, err := h.orders.CreateOrderFromCart(r.Context(), userIDFrom(r.Context()), req.RequestKey, shipping, req.PaymentMethod)
	if err != nil {
		h.respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusCreated, order)
}

func (h *Handler) GetOrder(w http.ResponseWriter, r *http.Request) {
	order, err := h.orders.Get(r.Context(), userIDFrom(r.Context()), chi.URLParam(r, "orderID"))
	if err != nil {
		h.respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, order)
}

func (h *Handler) CancelOrder(w http.ResponseWriter, r *http.Request) {
	order, err := h.orders.CancelOrder(r.Context(), userIDFrom(r.Context()), chi.URLParam(r, "orderID"))
	if err != nil {
		h.respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, order)
}

type UpdateStatusRequest struct {
	Status string `json:"status"`
}

func (h *Handler) UpdateOrderStatus(w http.ResponseWriter, r *http.Request) {
	var req UpdateStatusRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", "invalid JSON body")
		return
	}

	order, err := h.orders.UpdateStatus(r.Context(), chi.URLParam(r, "orderID"), domain.OrderStatus(req.Status))
	if err != nil {
		h.respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, order)
}

type AdjustRequest struct {
	Delta     int    `json:"delta"`
	Reason    string `json:"reason"`
	Reference string `json:"reference"`
	Actor     string `json:"actor"`
}

func (h *Handler) AdjustInventory(w http.ResponseWriter, r *http.Request) {
	var req AdjustRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", "invalid JSON body")
		return
	}
	if req.Delta == 0 {
		respondError(w, http.StatusBadRequest, "invalid_delta", "delta must be non-zero")
		return
	}
	reason := domain.ChangeReason(req.Reason)
	if !reason.IsValid() {
		respondError(w, http.StatusBadRequest, "invalid_reason", "unknown adjustment reason")
		return
	}

	rec, err := h.ledger.Adjust(r.Context(), chi.URLParam(r, "productID"), req.Delta,
		reason, req.Reference, req.Actor)
	if err != nil {
		h.respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, inventoryResponse(rec))
}

func (h *Handler) GetInventory(w http.ResponseWriter, r *http.Request) {
	rec, err := h.ledger.Get(r.Context(), chi.URLParam(r, "productID"))
	if err != nil {
		h.respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, inventoryResponse(rec))
}

func (h *Handler) LowStockAlerts(w http.ResponseWriter, r *http.Request) {
	alerts, err := h.ledger.LowStockAlerts(r.Context())
	if err != nil {
		h.respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"alerts": alerts})
}

func (h *Handler) ChangeHistory(w http.ResponseWriter, r *http.Request) {
	var from, to time.Time
	if v := r.URL.Query().Get("from"); v != "" {
		parsed, err := time.Parse(time.RFC3339, v)
		if err != nil {
			respondError(w, http.StatusBadRequest, "invalid_from", "from must be RFC3339")
			return
		}
		from = parsed
	}
	if v := r.URL.Query().Get("to"); v != "" {
		parsed, err := time.Parse(time.RFC3339, v)
		if err != nil {
			respondError(w, http.StatusBadRequest, "invalid_to", "to must be RFC3339")
			return
		}
		to = parsed
	}

	entries, err := h.ledger.ChangeHistory(r.Context(), chi.URLParam(r, "productID"), from, to)
	if err != nil {
		h.respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"entries": entries})
}

type InventoryResponse struct {
	ProductID         string    `json:"product_id"`
	Quantity          int       `json:"quantity"`
	Reserved          int       `json:"reserved"`
	Available         int       `json:"available"`
	LowStockThreshold int       `json:"low_stock_threshold"`
	UpdatedAt         time.Time `json:"updated_at"`
}

func inventoryResponse(rec *domain.InventoryRecord) InventoryResponse {
	return InventoryResponse{
		ProductID:         rec.ProductID,
		Quantity:          rec.Quantity,
		Reserved:          rec.Reserved,
		Available:         rec.Available(),
		LowStockThreshold: rec.LowStockThreshold,
		UpdatedAt:         rec.UpdatedAt,
	}
}

type ErrorResponse struct {
	Error    string                `json:"error"`
	Code     string                `json:"code,omitempty"`
	Problems []service.CartProblem `json:"problems,omitempty"`
}

// respondServiceError maps core errors onto HTTP status codes.
func (h *Handler) respondServiceError(w http.ResponseWriter, err error) {
	var validationErr *service.CartValidationError
	if errors.As(err, &validationErr) {
		respondJSON(w, http.StatusConflict, ErrorResponse{
			Error:    validationErr.Error(),
			Code:     "cart_validation_failed",
			Problems: validationErr.Problems,
		})
		return
	}

	var status int
	var code string
	switch {
	case errors.Is(err, service.ErrInvalidQuantity):
		status, code = http.StatusBadRequest, "invalid_quantity"
	case errors.Is(err, service.ErrEmptyCart):
		status, code = http.StatusBadRequest, "empty_cart"
	case errors.Is(err, service.ErrInsufficientStock):
		status, code = http.StatusConflict, "insufficient_stock"
	case errors.Is(err, service.ErrDuplicateCheckout):
		status, code = http.StatusConflict, "duplicate_checkout"
	case errors.Is(err, service.ErrInvalidTransition):
		status, code = http.StatusConflict, "invalid_transition"
	case errors.Is(err, service.ErrProductNotFound):
		status, code = http.StatusNotFound, "product_not_found"
	case errors.Is(err, service.ErrOrderNotFound):
		status, code = http.StatusNotFound, "order_not_found"
	case errors.Is(err, service.ErrNotOrderOwner):
		status, code = http.StatusForbidden, "not_order_owner"
	default:
		h.logger.Error("internal error", zap.Error(err))
		status, code = http.StatusInternalServerError, "internal_error"
	}

	respondError(w, status, code, err.Error())
}

func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		// Headers already sent, nothing useful left to do.
		return
	}
}

func respondError(w http.ResponseWriter, status int, code, message string) {
	respondJSON(w, status, ErrorResponse{Error: message, Code: code})
}
