// Package httptransport exposes the purchase broker over HTTP. Handlers
// decode, authenticate, call the application services, and map domain errors
// to status codes; no pricing or delivery decisions live here.
package httptransport

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/TimTinkers/Item-Ascension-Server/internal/application/checkout"
	"github.com/TimTinkers/Item-Ascension-Server/internal/application/fulfillment"
	"github.com/TimTinkers/Item-Ascension-Server/internal/application/identity"
	"github.com/TimTinkers/Item-Ascension-Server/internal/domain/catalog"
	"github.com/TimTinkers/Item-Ascension-Server/internal/domain/order"
	"github.com/TimTinkers/Item-Ascension-Server/internal/domain/payment"
	"github.com/TimTinkers/Item-Ascension-Server/internal/infrastructure/game"
	"github.com/TimTinkers/Item-Ascension-Server/internal/pkg/logging"
)

type Handler struct {
	checkout    *checkout.Service
	fulfillment *fulfillment.Service
	identity    *identity.Service
	verifier    *TokenVerifier
	log         *zap.Logger
	metrics     *Metrics
}

func NewHandler(
	checkoutSvc *checkout.Service,
	fulfillmentSvc *fulfillment.Service,
	identitySvc *identity.Service,
	verifier *TokenVerifier,
	logger *zap.Logger,
	metrics *Metrics,
) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{
		checkout:    checkoutSvc,
		fulfillment: fulfillmentSvc,
		identity:    identitySvc,
		verifier:    verifier,
		log:         logger.With(zap.String("component", "http_server")),
		metrics:     metrics,
	}
}

func (h *Handler) Router() http.Handler {
	mux := http.NewServeMux()

	h.route(mux, http.MethodPost, "/sales", h.handleSales)
	h.route(mux, http.MethodPost, "/screen-items", h.authenticated(h.handleScreenItems))
	h.route(mux, http.MethodPost, "/checkout", h.authenticated(h.handleCheckout))
	h.route(mux, http.MethodPost, "/approve", h.authenticated(h.handleApprove))
	h.route(mux, http.MethodPost, "/connect", h.authenticated(h.handleConnect))
	h.route(mux, http.MethodGet, "/health", h.handleHealth)

	return mux
}

func (h *Handler) route(mux *http.ServeMux, method, path string, handler http.HandlerFunc) {
	mux.HandleFunc(path, observe(h.log, h.metrics, path, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != method {
			writeError(w, http.StatusMethodNotAllowed, errors.New("method not allowed"))
			return
		}
		handler(w, r)
	}))
}

// principal is the authenticated caller: the verified payer id plus the raw
// bearer token, which is forwarded upstream for calls made on their behalf.
type principal struct {
	PayerID string
	Token   string
}

type principalHandler func(w http.ResponseWriter, r *http.Request, p principal)

func (h *Handler) authenticated(next principalHandler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		token, err := bearerToken(r)
		if err != nil {
			writeError(w, http.StatusUnauthorized, err)
			return
		}
		payerID, err := h.verifier.Verify(token)
		if err != nil {
			writeError(w, http.StatusUnauthorized, err)
			return
		}
		next(w, r, principal{PayerID: payerID, Token: token})
	}
}

type offerItemDTO struct {
	ID                   string          `json:"id"`
	Amount               int64           `json:"amount"`
	Metadata             json.RawMessage `json:"metadata,omitempty"`
	AvailableForPurchase int64           `json:"availableForPurchase"`
}

type offerDTO struct {
	ID       int64           `json:"id"`
	Metadata json.RawMessage `json:"metadata,omitempty"`
	Cost     string          `json:"cost"`
	Items    []offerItemDTO  `json:"items"`
}

type salesRequest struct {
	Services []int64 `json:"services,omitempty"`
}

type salesResponse struct {
	Sales []offerDTO `json:"sales"`
}

func (h *Handler) handleSales(w http.ResponseWriter, r *http.Request) {
	var req salesRequest
	if err := decodeJSON(r, &req, true); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	offers, err := h.checkout.ListOffers(r.Context(), req.Services)
	if err != nil {
		h.writeDomainError(r, w, err)
		return
	}

	sales := make([]offerDTO, 0, len(offers))
	for _, offer := range offers {
		dto := offerDTO{
			ID:       offer.ServiceID,
			Metadata: offer.Metadata,
			Cost:     offer.Price.StringFixed(2),
			Items:    make([]offerItemDTO, 0, len(offer.Contents)),
		}
		for _, item := range offer.Contents {
			dto.Items = append(dto.Items, offerItemDTO{
				ID:                   item.ItemID,
				Amount:               item.UnitAmount,
				Metadata:             item.UnitMetadata,
				AvailableForPurchase: item.AvailableForPurchase,
			})
		}
		sales = append(sales, dto)
	}
	writeJSON(w, http.StatusOK, salesResponse{Sales: sales})
}

type screenItemsRequest struct {
	Items []checkout.OwnedItem `json:"items"`
}

type screenItemsResponse struct {
	Items []checkout.OwnedItem `json:"items"`
}

func (h *Handler) handleScreenItems(w http.ResponseWriter, r *http.Request, p principal) {
	var req screenItemsRequest
	if err := decodeJSON(r, &req, false); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	screened, err := h.checkout.ScreenItems(r.Context(), req.Items)
	if err != nil {
		h.writeDomainError(r, w, err)
		return
	}
	writeJSON(w, http.StatusOK, screenItemsResponse{Items: screened})
}

type checkoutRequest struct {
	Services []checkout.RequestedLine `json:"services"`
	Method   string                   `json:"method"`
}

type transactionDTO struct {
	Nonce    uint64 `json:"nonce"`
	GasLimit uint64 `json:"gasLimit"`
	To       string `json:"to"`
	Data     string `json:"data"`
	Value    string `json:"value"`
}

type checkoutResponse struct {
	OrderID         string          `json:"orderId"`
	ExternalOrderID string          `json:"externalOrderId,omitempty"`
	Transaction     *transactionDTO `json:"transaction,omitempty"`
}

func (h *Handler) handleCheckout(w http.ResponseWriter, r *http.Request, p principal) {
	var req checkoutRequest
	if err := decodeJSON(r, &req, false); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	method := order.Method(strings.ToUpper(req.Method))
	result, err := h.checkout.Checkout(r.Context(), p.Token, p.PayerID, req.Services, method)
	if err != nil {
		h.writeDomainError(r, w, err)
		return
	}

	resp := checkoutResponse{
		OrderID:         result.OrderID,
		ExternalOrderID: result.Handle.ExternalOrderID,
	}
	if tx := result.Handle.Transaction; tx != nil {
		resp.Transaction = &transactionDTO{
			Nonce:    tx.Nonce,
			GasLimit: tx.GasLimit,
			To:       tx.To,
			Data:     tx.Data,
			Value:    tx.Value.String(),
		}
	}
	writeJSON(w, http.StatusCreated, resp)
}

type approveRequest struct {
	OrderID string `json:"orderId"`
}

type approveResponse struct {
	OrderID string `json:"orderId"`
	Status  string `json:"status"`
}

func (h *Handler) handleApprove(w http.ResponseWriter, r *http.Request, p principal) {
	var req approveRequest
	if err := decodeJSON(r, &req, false); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if req.OrderID == "" {
		writeError(w, http.StatusBadRequest, errors.New("orderId is required"))
		return
	}

	result, err := h.fulfillment.VerifyAndFulfill(r.Context(), req.OrderID)
	if errors.Is(err, order.ErrAlreadyFinalized) {
		// Replayed approval of a settled order is a no-op, not a failure.
		// The response reports the order's real terminal status: a replay
		// against a rejected order must not claim it was confirmed.
		resp := approveResponse{Status: "ALREADY_FINALIZED"}
		if result != nil {
			resp.OrderID = result.OrderID
			resp.Status = string(result.Status)
		}
		writeJSON(w, http.StatusOK, resp)
		return
	}
	if err != nil {
		h.writeDomainError(r, w, err)
		return
	}
	writeJSON(w, http.StatusOK, approveResponse{
		OrderID: result.OrderID,
		Status:  string(result.Status),
	})
}

func (h *Handler) handleConnect(w http.ResponseWriter, r *http.Request, p principal) {
	status, err := h.identity.Connect(r.Context(), p.Token)
	if err != nil {
		h.writeDomainError(r, w, err)
		return
	}
	writeJSON(w, http.StatusOK, status)
}

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

// decodeJSON decodes a request body, optionally tolerating an empty body for
// endpoints whose parameters are all optional.
func decodeJSON(r *http.Request, dst any, allowEmpty bool) error {
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(dst); err != nil {
		if allowEmpty && errors.Is(err, io.EOF) {
			return nil
		}
		return err
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

// deliveryDelayed matches the failures that happen after funds have settled:
// the caller's money is captured but the goods have not all been handed out.
func deliveryDelayed(err error) bool {
	return errors.Is(err, fulfillment.ErrItemRemoval) ||
		errors.Is(err, fulfillment.ErrNoLinkedAddress) ||
		errors.Is(err, fulfillment.ErrMintRejected)
}

func (h *Handler) writeDomainError(r *http.Request, w http.ResponseWriter, err error) {
	if deliveryDelayed(err) {
		// The order stays PENDING on the ledger and operators are alerted;
		// the client must not retry payment.
		logging.FromContext(r.Context()).Warn("delivery_delayed_response", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error":  "payment received, delivery delayed",
			"detail": err.Error(),
		})
		return
	}

	switch {
	case errors.Is(err, ErrUnauthenticated), errors.Is(err, game.ErrUnauthorized):
		writeError(w, http.StatusUnauthorized, err)
	case errors.Is(err, checkout.ErrFeatureDisabled):
		writeError(w, http.StatusForbidden, err)
	case errors.Is(err, order.ErrNotFound):
		writeError(w, http.StatusNotFound, err)
	case errors.Is(err, checkout.ErrOutOfStock),
		errors.Is(err, checkout.ErrInsufficientItems),
		errors.Is(err, catalog.ErrInsufficientStock),
		errors.Is(err, order.ErrDuplicate):
		writeError(w, http.StatusConflict, err)
	case errors.Is(err, checkout.ErrUnknownService),
		errors.Is(err, checkout.ErrUnknownPaymentMethod),
		errors.Is(err, checkout.ErrInvalidQuantity),
		errors.Is(err, checkout.ErrEmptyAscension),
		errors.Is(err, catalog.ErrUnknownItem):
		writeError(w, http.StatusBadRequest, err)
	case errors.Is(err, payment.ErrAmountMismatch), errors.Is(err, payment.ErrVerify):
		writeError(w, http.StatusPaymentRequired, err)
	case errors.Is(err, payment.ErrUnsupported):
		writeError(w, http.StatusNotImplemented, err)
	default:
		logging.FromContext(r.Context()).Error("request_failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, err)
	}
}
