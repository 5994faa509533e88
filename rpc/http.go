package rpc

import (
	"bytes"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"sudovault/native/vault"
)

const (
	jsonRPCVersion  = "2.0"
	maxRequestBytes = 1 << 20 // 1 MiB
)

const (
	codeParseError     = -32700
	codeInvalidRequest = -32600
	codeMethodNotFound = -32601
	codeInvalidParams  = -32602
	codeUnauthorized   = -32001
	codeServerError    = -32000
)

// Server exposes the vault engine over JSON-RPC 2.0. Write methods require a
// bearer token when one is configured; view methods and the callback surface
// the host runtime posts to stay open.
type Server struct {
	engine    *vault.Engine
	authToken string
	log       *slog.Logger
}

func NewServer(engine *vault.Engine, authToken string) *Server {
	return &Server{
		engine:    engine,
		authToken: strings.TrimSpace(authToken),
		log:       slog.Default().With("component", "rpc"),
	}
}

// Router assembles the HTTP surface: JSON-RPC at the root, health and
// Prometheus endpoints beside it.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Handle("/metrics", promhttp.Handler())
	r.Post("/", s.handle)
	return r
}

// Handler wraps the router with request tracing so a staged call's trace
// spans both the originating request and the continuation the relayer posts
// back.
func (s *Server) Handler() http.Handler {
	return otelhttp.NewHandler(s.Router(), "sudovaultd.rpc")
}

// Start serves the handler until the listener fails.
func (s *Server) Start(addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	s.log.Info("json-rpc listening", "addr", addr)
	return srv.ListenAndServe()
}

type RPCRequest struct {
	JSONRPC string            `json:"jsonrpc"`
	Method  string            `json:"method"`
	Params  []json.RawMessage `json:"params"`
	ID      int               `json:"id"`
}

type RPCResponse struct {
	JSONRPC string      `json:"jsonrpc"`
	ID      interface{} `json:"id"`
	Result  interface{} `json:"result,omitempty"`
	Error   *RPCError   `json:"error,omitempty"`
}

type RPCError struct {
	Code    int         `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

func writeError(w http.ResponseWriter, status int, id interface{}, code int, message string, data interface{}) {
	if status <= 0 {
		status = http.StatusBadRequest
	}
	if status != http.StatusOK {
		w.WriteHeader(status)
	}
	errObj := &RPCError{Code: code, Message: message}
	if data != nil {
		errObj.Data = data
	}
	resp := RPCResponse{JSONRPC: jsonRPCVersion, ID: id, Error: errObj}
	_ = json.NewEncoder(w).Encode(resp)
}

func writeResult(w http.ResponseWriter, id interface{}, result interface{}) {
	resp := RPCResponse{JSONRPC: jsonRPCVersion, ID: id, Result: result}
	_ = json.NewEncoder(w).Encode(resp)
}

func (s *Server) requireAuth(r *http.Request) *RPCError {
	if s.authToken == "" {
		return nil
	}
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	const prefix = "Bearer "
	if !strings.HasPrefix(header, prefix) {
		return &RPCError{Code: codeUnauthorized, Message: "missing bearer token"}
	}
	token := strings.TrimSpace(strings.TrimPrefix(header, prefix))
	if subtle.ConstantTimeCompare([]byte(token), []byte(s.authToken)) != 1 {
		return &RPCError{Code: codeUnauthorized, Message: "invalid bearer token"}
	}
	return nil
}

func (s *Server) handle(w http.ResponseWriter, r *http.Request) {
	reader := http.MaxBytesReader(w, r.Body, maxRequestBytes)
	defer func() {
		_ = reader.Close()
	}()

	w.Header().Set("Content-Type", "application/json")

	body, err := io.ReadAll(reader)
	if err != nil {
		status := http.StatusBadRequest
		message := "failed to read request body"
		var maxBytesErr *http.MaxBytesError
		if errors.As(err, &maxBytesErr) {
			status = http.StatusRequestEntityTooLarge
			message = fmt.Sprintf("request body exceeds %d bytes", maxRequestBytes)
		}
		writeError(w, status, nil, codeInvalidRequest, message, err.Error())
		return
	}
	if len(bytes.TrimSpace(body)) == 0 {
		writeError(w, http.StatusBadRequest, nil, codeInvalidRequest, "request body required", nil)
		return
	}

	req := &RPCRequest{}
	if err := json.Unmarshal(body, req); err != nil {
		writeError(w, http.StatusBadRequest, nil, codeParseError, "invalid JSON payload", err.Error())
		return
	}
	if req.JSONRPC != "" && req.JSONRPC != jsonRPCVersion {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidRequest, "unsupported jsonrpc version", req.JSONRPC)
		return
	}
	if req.Method == "" {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidRequest, "method required", nil)
		return
	}

	if isWriteMethod(req.Method) {
		if authErr := s.requireAuth(r); authErr != nil {
			writeError(w, http.StatusUnauthorized, req.ID, authErr.Code, authErr.Message, authErr.Data)
			return
		}
	}

	switch req.Method {
	case "vault_state":
		s.handleState(w, req)
	case "vault_deposit":
		s.handleDeposit(w, req)
	case "vault_delegate":
		s.handleDelegate(w, req)
	case "vault_undelegate":
		s.handleUndelegate(w, req)
	case "vault_claimUnstaked":
		s.handleClaimUnstaked(w, req)
	case "vault_requestLiquidity":
		s.handleRequestLiquidity(w, req)
	case "vault_tokenReceived":
		s.handleTokenReceived(w, req)
	case "vault_acceptCounterOffer":
		s.handleAcceptCounterOffer(w, req)
	case "vault_cancelCounterOffer":
		s.handleCancelCounterOffer(w, req)
	case "vault_cancelLiquidityRequest":
		s.handleCancelLiquidityRequest(w, req)
	case "vault_repayLoan":
		s.handleRepayLoan(w, req)
	case "vault_processClaims":
		s.handleProcessClaims(w, req)
	case "vault_retryRefunds":
		s.handleRetryRefunds(w, req)
	case "vault_withdraw":
		s.handleWithdraw(w, req)
	case "vault_transferOwnership":
		s.handleTransferOwnership(w, req)
	case "vault_listForTakeover":
		s.handleListForTakeover(w, req)
	case "vault_cancelTakeover":
		s.handleCancelTakeover(w, req)
	case "vault_claimVault":
		s.handleClaimVault(w, req)
	case "vault_completeCall":
		s.handleCompleteCall(w, req)
	default:
		writeError(w, http.StatusNotFound, req.ID, codeMethodNotFound, fmt.Sprintf("method %q not found", req.Method), nil)
	}
}

// isWriteMethod reports whether the method mutates vault state. The relayer
// posting call outcomes carries the same bearer token as other writers.
func isWriteMethod(method string) bool {
	return method != "vault_state"
}
