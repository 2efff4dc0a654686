package server

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"math/big"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"dshares/native/synth"
	"dshares/services/synthd/storage"
)

// Config defines HTTP server parameters.
type Config struct {
	ListenAddress string
}

// Server hosts the issuance API for synthd.
type Server struct {
	cfg       Config
	engine    *synth.Engine
	storage   *storage.Storage
	authority [20]byte
	logger    *log.Logger
	auth      *Authenticator
}

// New constructs a new HTTP server.
func New(cfg Config, engine *synth.Engine, store *storage.Storage, authority [20]byte, logger *log.Logger, auth *Authenticator) (*Server, error) {
	if engine == nil {
		return nil, fmt.Errorf("engine required")
	}
	if store == nil {
		return nil, fmt.Errorf("storage required")
	}
	if auth == nil {
		return nil, fmt.Errorf("authenticator required")
	}
	if logger == nil {
		logger = log.Default()
	}
	return &Server{cfg: cfg, engine: engine, storage: store, authority: authority, logger: logger, auth: auth}, nil
}

// Run starts the HTTP server and blocks until context cancellation.
func (s *Server) Run(ctx context.Context) error {
	if s == nil {
		return fmt.Errorf("server not configured")
	}
	srv := &http.Server{Addr: s.cfg.ListenAddress, Handler: s.Handler()}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	s.logger.Printf("synthd: http server listening on %s", s.cfg.ListenAddress)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("listen and serve: %w", err)
	}
	return nil
}

// Handler assembles the route table.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/healthz", otelhttp.NewHandler(http.HandlerFunc(s.handleHealth), "synthd.health"))
	mux.Handle("/metrics", promhttp.Handler())
	mux.Handle("/v1/params", otelhttp.NewHandler(http.HandlerFunc(s.handleParams), "synthd.params"))
	mux.Handle("/v1/mint", otelhttp.NewHandler(s.requireAuth(http.HandlerFunc(s.handleMint)), "synthd.mint"))
	mux.Handle("/v1/redeem", otelhttp.NewHandler(s.requireAuth(http.HandlerFunc(s.handleRedeem)), "synthd.redeem"))
	mux.Handle("/v1/fulfill", otelhttp.NewHandler(s.requireAuth(http.HandlerFunc(s.handleFulfill)), "synthd.fulfill"))
	mux.Handle("/v1/claim", otelhttp.NewHandler(s.requireAuth(http.HandlerFunc(s.handleClaim)), "synthd.claim"))
	mux.Handle("/v1/requests", otelhttp.NewHandler(http.HandlerFunc(s.handleRequestList), "synthd.requests"))
	mux.Handle("/v1/requests/", otelhttp.NewHandler(http.HandlerFunc(s.handleRequestGet), "synthd.request"))
	return mux
}

func (s *Server) requireAuth(next http.Handler) http.Handler {
	if s.auth == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, "authentication unavailable", http.StatusInternalServerError)
		})
	}
	return s.auth.Middleware(next)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

func (s *Server) handleParams(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	params := s.engine.Params()
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"collateral_ratio":     params.CollateralRatio,
		"ratio_precision":      synth.CollateralRatioPrecision,
		"min_withdrawal_wei":   params.MinWithdrawalWei.String(),
		"fulfill_gas_limit":    params.FulfillGasLimit,
		"sequential":           params.Sequential,
		"fail_on_oracle_error": params.FailOnOracleError,
		"mint_source":          s.engine.MintSource(),
		"redeem_source":        s.engine.RedeemSource(),
	})
}

func (s *Server) handleMint(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req struct {
		Amount string `json:"amount"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid payload", http.StatusBadRequest)
		return
	}
	amount, err := parseAmount(req.Amount)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	id, err := s.engine.RequestMint(r.Context(), s.authority, amount)
	if err != nil {
		s.writeEngineError(w, "mint request", err)
		return
	}
	s.mirrorRequest(r.Context(), id)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	json.NewEncoder(w).Encode(map[string]string{"id": id})
}

func (s *Server) handleRedeem(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req struct {
		Requester string `json:"requester"`
		Amount    string `json:"amount"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid payload", http.StatusBadRequest)
		return
	}
	requester, err := parseAddress(req.Requester)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	amount, err := parseAmount(req.Amount)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	id, err := s.engine.RequestRedeem(r.Context(), requester, amount)
	if err != nil {
		s.writeEngineError(w, "redeem request", err)
		return
	}
	s.mirrorRequest(r.Context(), id)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	json.NewEncoder(w).Encode(map[string]string{"id": id})
}

func (s *Server) handleFulfill(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req struct {
		ID       string `json:"id"`
		Response string `json:"response"`
		Error    string `json:"error"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid payload", http.StatusBadRequest)
		return
	}
	if strings.TrimSpace(req.ID) == "" {
		http.Error(w, "id required", http.StatusBadRequest)
		return
	}
	response, err := decodeHexPayload(req.Response)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	err = s.engine.Fulfill(r.Context(), req.ID, response, []byte(req.Error))
	if err != nil && !recordedOutcome(err) {
		s.writeEngineError(w, "fulfill", err)
		return
	}
	s.mirrorOutcome(r.Context(), req.ID)
	record, lookupErr := s.engine.Request(req.ID)
	if lookupErr != nil {
		s.logger.Printf("synthd: request lookup after fulfill: %v", lookupErr)
		http.Error(w, "fulfillment recorded, lookup failed", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"id": record.ID, "status": string(record.Status)})
}

func (s *Server) handleClaim(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req struct {
		Requester string `json:"requester"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid payload", http.StatusBadRequest)
		return
	}
	requester, err := parseAddress(req.Requester)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	amount, err := s.engine.Claim(r.Context(), requester)
	if err != nil {
		s.writeEngineError(w, "claim", err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"amount": amount.String()})
}

func (s *Server) handleRequestList(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	limit := 50
	if raw := strings.TrimSpace(r.URL.Query().Get("limit")); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			http.Error(w, "invalid limit", http.StatusBadRequest)
			return
		}
		limit = parsed
	}
	cursor := strings.TrimSpace(r.URL.Query().Get("cursor"))
	records, next, err := s.engine.Requests().List(cursor, limit)
	if err != nil {
		s.logger.Printf("synthd: list requests: %v", err)
		http.Error(w, "list failed", http.StatusInternalServerError)
		return
	}
	items := make([]map[string]any, 0, len(records))
	for _, record := range records {
		items = append(items, requestJSON(record))
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{"requests": items, "next_cursor": next})
}

func (s *Server) handleRequestGet(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	id := strings.TrimPrefix(r.URL.Path, "/v1/requests/")
	if id == "" || strings.Contains(id, "/") {
		http.Error(w, "request id required", http.StatusBadRequest)
		return
	}
	record, err := s.engine.Request(id)
	if err != nil {
		if errors.Is(err, synth.ErrRequestNotFound) {
			http.Error(w, "request not found", http.StatusNotFound)
			return
		}
		s.logger.Printf("synthd: request lookup: %v", err)
		http.Error(w, "lookup failed", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(requestJSON(record))
}

// mirrorRequest copies a freshly issued request into the relational audit
// store. Mirror failures are logged, never surfaced: the KV ledger is
// authoritative.
func (s *Server) mirrorRequest(ctx context.Context, id string) {
	record, err := s.engine.Request(id)
	if err != nil {
		s.logger.Printf("synthd: mirror lookup %s: %v", id, err)
		return
	}
	rec := storage.RequestRecord{
		ID:        record.ID,
		Action:    string(record.Action),
		Amount:    record.Amount.String(),
		Requester: fmt.Sprintf("0x%x", record.Requester),
		Status:    string(record.Status),
		CreatedAt: record.CreatedAt,
	}
	if err := s.storage.RecordRequest(ctx, rec); err != nil {
		s.logger.Printf("synthd: mirror request %s: %v", id, err)
	}
}

func (s *Server) mirrorOutcome(ctx context.Context, id string) {
	record, err := s.engine.Request(id)
	if err != nil {
		return
	}
	settled := ""
	if record.SettledAmount != nil {
		settled = record.SettledAmount.String()
	}
	if err := s.storage.UpdateRequestStatus(ctx, record.ID, string(record.Status), settled); err != nil {
		s.logger.Printf("synthd: mirror outcome %s: %v", id, err)
	}
}

func (s *Server) writeEngineError(w http.ResponseWriter, op string, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, synth.ErrRequestNotFound):
		status = http.StatusNotFound
	case errors.Is(err, synth.ErrDuplicateFulfillment), errors.Is(err, synth.ErrOutOfOrderFulfillment):
		status = http.StatusConflict
	case errors.Is(err, synth.ErrBelowMinimumWithdrawal):
		status = http.StatusUnprocessableEntity
	case errors.Is(err, synth.ErrNotAuthority):
		status = http.StatusForbidden
	case errors.Is(err, synth.ErrSettlementTransferFailed):
		status = http.StatusBadGateway
	}
	if status == http.StatusInternalServerError {
		s.logger.Printf("synthd: %s: %v", op, err)
		http.Error(w, op+" failed", status)
		return
	}
	http.Error(w, err.Error(), status)
}

// recordedOutcome reports fulfillment errors whose rejection or revert is
// itself the recorded terminal state, so the callback still succeeded.
func recordedOutcome(err error) bool {
	return errors.Is(err, synth.ErrInsufficientCollateral) || errors.Is(err, synth.ErrOracleReportedFailure)
}

func requestJSON(record *synth.Request) map[string]any {
	out := map[string]any{
		"id":         record.ID,
		"action":     string(record.Action),
		"amount":     record.Amount.String(),
		"requester":  fmt.Sprintf("0x%x", record.Requester),
		"status":     string(record.Status),
		"created_at": record.CreatedAt,
	}
	if record.SettledAmount != nil {
		out["settled_amount"] = record.SettledAmount.String()
	}
	return out
}

func parseAmount(raw string) (*big.Int, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return nil, fmt.Errorf("amount required")
	}
	amount, ok := new(big.Int).SetString(trimmed, 10)
	if !ok {
		return nil, fmt.Errorf("invalid amount %q", raw)
	}
	if amount.Sign() < 0 {
		return nil, fmt.Errorf("amount must not be negative")
	}
	return amount, nil
}

func parseAddress(raw string) ([20]byte, error) {
	var addr [20]byte
	trimmed := strings.TrimPrefix(strings.TrimSpace(raw), "0x")
	if trimmed == "" {
		return addr, fmt.Errorf("requester required")
	}
	decoded, err := hex.DecodeString(trimmed)
	if err != nil {
		return addr, fmt.Errorf("invalid requester: %w", err)
	}
	if len(decoded) != len(addr) {
		return addr, fmt.Errorf("requester must be %d bytes, got %d", len(addr), len(decoded))
	}
	copy(addr[:], decoded)
	return addr, nil
}

func decodeHexPayload(raw string) ([]byte, error) {
	trimmed := strings.TrimPrefix(strings.TrimSpace(raw), "0x")
	if trimmed == "" {
		return nil, nil
	}
	decoded, err := hex.DecodeString(trimmed)
	if err != nil {
		return nil, fmt.Errorf("invalid response payload: %w", err)
	}
	return decoded, nil
}
