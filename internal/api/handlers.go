/**
 * @description
 * HTTP handlers for the BeefChain sync service. Handlers decode the request,
 * call the application service with the authenticated wallet as caller and
 * map the error taxonomy onto status codes. State-changing failures always
 * carry the lower layer's reason string back to the client.
 *
 * @dependencies
 * - github.com/go-chi/chi/v5: URL parameters.
 * - internal/app, internal/domain: Service operations, models and errors.
 */
package api

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/vices1967-beep/beefchain/internal/app"
	"github.com/vices1967-beep/beefchain/internal/domain"
	"github.com/vices1967-beep/beefchain/pkg/ledgerclient"
)

// Service is the application surface the handlers depend on.
type Service interface {
	CreateAnimal(ctx context.Context, caller string, req app.NewAnimal) (*domain.Submission, error)
	TransferAnimal(ctx context.Context, caller string, animalID uint64, to string, amount int64) (*domain.Submission, error)
	AcceptAnimal(ctx context.Context, caller string, animalID uint64, amount int64) (*domain.Submission, error)
	ProcessAnimal(ctx context.Context, caller string, animalID uint64) (*domain.Submission, error)
	CreateBatch(ctx context.Context, caller string, animalIDs []uint64) (*domain.Submission, error)
	AddAnimalsToBatch(ctx context.Context, caller string, batchID uint64, animalIDs []uint64) (*domain.Submission, error)
	TransferBatch(ctx context.Context, caller string, batchID uint64, to string, amount int64) (*domain.Submission, error)
	AcceptBatch(ctx context.Context, caller string, batchID uint64, amount int64) (*domain.Submission, error)
	ProcessBatch(ctx context.Context, caller string, batchID uint64) (*domain.Submission, error)
	CreateCut(ctx context.Context, caller string, animalID uint64, cutType domain.CutType, weightKg uint64) (*domain.Submission, error)
	TransferCutsToExporter(ctx context.Context, caller string, animalID uint64, cutIDs []uint64, exporter string) (*domain.Submission, error)
	CertifyCut(ctx context.Context, caller string, animalID, cutID uint64) (*domain.Submission, error)
	GenerateCutQR(ctx context.Context, caller string, animalID, cutID uint64) (*domain.Submission, error)
	ProcessorOverview(ctx context.Context, processor string) (*domain.ProcessorOverview, error)
	ProducerOverview(ctx context.Context, producer string) (*domain.ProducerOverview, error)
	Reconcile(ctx context.Context, scope string) (*domain.ReconcileResult, error)
	ListPayments(ctx context.Context, address string, limit int) ([]domain.PaymentRecord, error)
}

// Handler holds the application service that handlers will interact with.
type Handler struct {
	service Service
}

// NewHandler creates a new Handler with the given service.
func NewHandler(service Service) *Handler {
	return &Handler{service: service}
}

type createAnimalRequest struct {
	MetadataHash string `json:"metadata_hash"`
	Breed        int    `json:"breed"`
	BirthDate    int64  `json:"birth_date"`
	WeightKg     uint64 `json:"weight_kg"`
}

type transferRequest struct {
	To     string `json:"to"`
	Amount int64  `json:"amount"`
}

type acceptRequest struct {
	Amount int64 `json:"amount"`
}

type animalIDsRequest struct {
	AnimalIDs []uint64 `json:"animal_ids"`
}

type createCutRequest struct {
	CutType  int    `json:"cut_type"`
	CutName  string `json:"cut_name"`
	WeightKg uint64 `json:"weight_kg"`
}

type transferCutsRequest struct {
	CutIDs   []uint64 `json:"cut_ids"`
	Exporter string   `json:"exporter"`
}

type reconcileRequest struct {
	Scope string `json:"scope"`
}

func (h *Handler) handleCreateAnimal(w http.ResponseWriter, r *http.Request) {
	wallet, ok := h.wallet(w, r)
	if !ok {
		return
	}
	var req createAnimalRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.Breed < 0 || req.Breed > 255 {
		respondWithError(w, http.StatusBadRequest, "breed is out of range")
		return
	}

	sub, err := h.service.CreateAnimal(r.Context(), wallet, app.NewAnimal{
		MetadataHash: req.MetadataHash,
		Breed:        domain.Breed(req.Breed),
		BirthDate:    time.Unix(req.BirthDate, 0).UTC(),
		WeightKg:     req.WeightKg,
	})
	h.respondSubmission(w, app.OpCreateAnimal, wallet, sub, err)
}

func (h *Handler) handleTransferAnimal(w http.ResponseWriter, r *http.Request) {
	wallet, id, ok := h.walletAndID(w, r, "id")
	if !ok {
		return
	}
	var req transferRequest
	if !decodeBody(w, r, &req) {
		return
	}
	sub, err := h.service.TransferAnimal(r.Context(), wallet, id, req.To, req.Amount)
	h.respondSubmission(w, app.OpTransferAnimal, wallet, sub, err)
}

func (h *Handler) handleAcceptAnimal(w http.ResponseWriter, r *http.Request) {
	wallet, id, ok := h.walletAndID(w, r, "id")
	if !ok {
		return
	}
	var req acceptRequest
	if !decodeOptionalBody(w, r, &req) {
		return
	}
	sub, err := h.service.AcceptAnimal(r.Context(), wallet, id, req.Amount)
	h.respondSubmission(w, app.OpAcceptAnimal, wallet, sub, err)
}

func (h *Handler) handleProcessAnimal(w http.ResponseWriter, r *http.Request) {
	wallet, id, ok := h.walletAndID(w, r, "id")
	if !ok {
		return
	}
	sub, err := h.service.ProcessAnimal(r.Context(), wallet, id)
	h.respondSubmission(w, app.OpProcessAnimal, wallet, sub, err)
}

func (h *Handler) handleCreateBatch(w http.ResponseWriter, r *http.Request) {
	wallet, ok := h.wallet(w, r)
	if !ok {
		return
	}
	var req animalIDsRequest
	if !decodeBody(w, r, &req) {
		return
	}
	sub, err := h.service.CreateBatch(r.Context(), wallet, req.AnimalIDs)
	h.respondSubmission(w, app.OpCreateBatch, wallet, sub, err)
}

func (h *Handler) handleAddAnimalsToBatch(w http.ResponseWriter, r *http.Request) {
	wallet, id, ok := h.walletAndID(w, r, "id")
	if !ok {
		return
	}
	var req animalIDsRequest
	if !decodeBody(w, r, &req) {
		return
	}
	sub, err := h.service.AddAnimalsToBatch(r.Context(), wallet, id, req.AnimalIDs)
	h.respondSubmission(w, app.OpAddAnimalsToBatch, wallet, sub, err)
}

func (h *Handler) handleTransferBatch(w http.ResponseWriter, r *http.Request) {
	wallet, id, ok := h.walletAndID(w, r, "id")
	if !ok {
		return
	}
	var req transferRequest
	if !decodeBody(w, r, &req) {
		return
	}
	sub, err := h.service.TransferBatch(r.Context(), wallet, id, req.To, req.Amount)
	h.respondSubmission(w, app.OpTransferBatch, wallet, sub, err)
}

func (h *Handler) handleAcceptBatch(w http.ResponseWriter, r *http.Request) {
	wallet, id, ok := h.walletAndID(w, r, "id")
	if !ok {
		return
	}
	var req acceptRequest
	if !decodeOptionalBody(w, r, &req) {
		return
	}
	sub, err := h.service.AcceptBatch(r.Context(), wallet, id, req.Amount)
	h.respondSubmission(w, app.OpAcceptBatch, wallet, sub, err)
}

func (h *Handler) handleProcessBatch(w http.ResponseWriter, r *http.Request) {
	wallet, id, ok := h.walletAndID(w, r, "id")
	if !ok {
		return
	}
	sub, err := h.service.ProcessBatch(r.Context(), wallet, id)
	h.respondSubmission(w, app.OpProcessBatch, wallet, sub, err)
}

func (h *Handler) handleCreateCut(w http.ResponseWriter, r *http.Request) {
	wallet, id, ok := h.walletAndID(w, r, "id")
	if !ok {
		return
	}
	var req createCutRequest
	if !decodeBody(w, r, &req) {
		return
	}
	cutType := domain.CutType(0)
	if req.CutName != "" {
		named, found := domain.CutTypeByName(req.CutName)
		if !found {
			respondWithError(w, http.StatusBadRequest, "unknown cut name")
			return
		}
		cutType = named
	} else if req.CutType > 0 && req.CutType < 256 {
		cutType = domain.CutType(req.CutType)
	}
	sub, err := h.service.CreateCut(r.Context(), wallet, id, cutType, req.WeightKg)
	h.respondSubmission(w, app.OpCreateCut, wallet, sub, err)
}

func (h *Handler) handleTransferCuts(w http.ResponseWriter, r *http.Request) {
	wallet, id, ok := h.walletAndID(w, r, "id")
	if !ok {
		return
	}
	var req transferCutsRequest
	if !decodeBody(w, r, &req) {
		return
	}
	sub, err := h.service.TransferCutsToExporter(r.Context(), wallet, id, req.CutIDs, req.Exporter)
	h.respondSubmission(w, app.OpTransferCuts, wallet, sub, err)
}

func (h *Handler) handleCertifyCut(w http.ResponseWriter, r *http.Request) {
	wallet, animalID, ok := h.walletAndID(w, r, "id")
	if !ok {
		return
	}
	cutID, ok := pathID(w, r, "cutID")
	if !ok {
		return
	}
	sub, err := h.service.CertifyCut(r.Context(), wallet, animalID, cutID)
	h.respondSubmission(w, app.OpCertifyCut, wallet, sub, err)
}

func (h *Handler) handleGenerateCutQR(w http.ResponseWriter, r *http.Request) {
	wallet, animalID, ok := h.walletAndID(w, r, "id")
	if !ok {
		return
	}
	cutID, ok := pathID(w, r, "cutID")
	if !ok {
		return
	}
	sub, err := h.service.GenerateCutQR(r.Context(), wallet, animalID, cutID)
	h.respondSubmission(w, app.OpGenerateCutQR, wallet, sub, err)
}

func (h *Handler) handlePending(w http.ResponseWriter, r *http.Request) {
	wallet, ok := h.wallet(w, r)
	if !ok {
		return
	}
	overview, err := h.service.ProcessorOverview(r.Context(), wallet)
	if err != nil {
		h.respondServiceError(w, "processor_overview", wallet, err)
		return
	}
	respondWithJSON(w, http.StatusOK, overview)
}

func (h *Handler) handleProducerOverview(w http.ResponseWriter, r *http.Request) {
	wallet, ok := h.wallet(w, r)
	if !ok {
		return
	}
	overview, err := h.service.ProducerOverview(r.Context(), wallet)
	if err != nil {
		h.respondServiceError(w, "producer_overview", wallet, err)
		return
	}
	respondWithJSON(w, http.StatusOK, overview)
}

func (h *Handler) handleReconcile(w http.ResponseWriter, r *http.Request) {
	wallet, ok := h.wallet(w, r)
	if !ok {
		return
	}
	h.reconcile(w, r, wallet)
}

func (h *Handler) handleInternalReconcile(w http.ResponseWriter, r *http.Request) {
	var req reconcileRequest
	if !decodeBody(w, r, &req) {
		return
	}
	h.reconcile(w, r, req.Scope)
}

func (h *Handler) reconcile(w http.ResponseWriter, r *http.Request, scope string) {
	result, err := h.service.Reconcile(r.Context(), scope)
	if err != nil {
		h.respondServiceError(w, "reconcile", scope, err)
		return
	}
	respondWithJSON(w, http.StatusOK, result)
}

func (h *Handler) handleListPayments(w http.ResponseWriter, r *http.Request) {
	wallet, ok := h.wallet(w, r)
	if !ok {
		return
	}
	limit := 50
	if raw := strings.TrimSpace(r.URL.Query().Get("limit")); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 || parsed > 200 {
			respondWithError(w, http.StatusBadRequest, "limit must be between 1 and 200")
			return
		}
		limit = parsed
	}
	payments, err := h.service.ListPayments(r.Context(), wallet, limit)
	if err != nil {
		h.respondServiceError(w, "list_payments", wallet, err)
		return
	}
	respondWithJSON(w, http.StatusOK, payments)
}

func (h *Handler) wallet(w http.ResponseWriter, r *http.Request) (string, bool) {
	wallet, ok := WalletFromContext(r.Context())
	if !ok {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return "", false
	}
	return wallet, true
}

func (h *Handler) walletAndID(w http.ResponseWriter, r *http.Request, param string) (string, uint64, bool) {
	wallet, ok := h.wallet(w, r)
	if !ok {
		return "", 0, false
	}
	id, ok := pathID(w, r, param)
	return wallet, id, ok
}

func (h *Handler) respondSubmission(w http.ResponseWriter, op, wallet string, sub *domain.Submission, err error) {
	if err != nil {
		h.respondServiceError(w, op, wallet, err)
		return
	}
	status := http.StatusOK
	if !sub.Confirmed {
		status = http.StatusAccepted
	}
	respondWithJSON(w, status, sub)
}

// statusFor maps the error taxonomy onto HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, domain.ErrPreconditionFailed):
		return http.StatusPreconditionFailed
	case errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrRateLimited):
		return http.StatusTooManyRequests
	case errors.Is(err, app.ErrScopeRequired):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrUnavailable), errors.Is(err, ledgerclient.ErrUnavailable):
		return http.StatusServiceUnavailable
	case errors.Is(err, domain.ErrMalformedResponse), errors.Is(err, ledgerclient.ErrMalformed),
		errors.Is(err, domain.ErrEncodingFatal), errors.Is(err, ledgerclient.ErrReverted):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func (h *Handler) respondServiceError(w http.ResponseWriter, op, wallet string, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		log.Printf("level=error component=api msg=\"request failed\" op=%s wallet=%s status=%d err=%v", op, wallet, status, err)
	} else {
		log.Printf("level=warn component=api msg=\"request rejected\" op=%s wallet=%s status=%d err=%v", op, wallet, status, err)
	}

	body := map[string]interface{}{"error": err.Error(), "operation": op}
	var pe *domain.PreconditionError
	if errors.As(err, &pe) {
		body["reasons"] = pe.Reasons
	}
	respondWithJSON(w, status, body)
}

func pathID(w http.ResponseWriter, r *http.Request, param string) (uint64, bool) {
	id, err := strconv.ParseUint(chi.URLParam(r, param), 10, 64)
	if err != nil || id == 0 {
		respondWithError(w, http.StatusBadRequest, "invalid "+param)
		return 0, false
	}
	return id, true
}

func decodeBody(w http.ResponseWriter, r *http.Request, dst interface{}) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		respondWithError(w, http.StatusBadRequest, "Invalid request body")
		return false
	}
	return true
}

// decodeOptionalBody accepts an empty body and leaves dst untouched.
func decodeOptionalBody(w http.ResponseWriter, r *http.Request, dst interface{}) bool {
	if r.Body == nil || r.ContentLength == 0 {
		return true
	}
	return decodeBody(w, r, dst)
}

func respondWithJSON(w http.ResponseWriter, code int, payload interface{}) {
	response, err := json.Marshal(payload)
	if err != nil {
		w.WriteHeader(http.StatusInternalServerError)
		w.Write([]byte("Internal Server Error"))
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	w.Write(response)
}

func respondWithError(w http.ResponseWriter, code int, message string) {
	respondWithJSON(w, code, map[string]string{"error": message})
}
