// Package gateway exposes the approval gate over HTTP for agents running in
// other processes.
package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/MEKXH/letsping/internal/approval"
	"github.com/MEKXH/letsping/internal/audit"
	"github.com/MEKXH/letsping/internal/config"
	"github.com/MEKXH/letsping/internal/metrics"
	"github.com/MEKXH/letsping/internal/version"
	"github.com/google/uuid"
)

const (
	defaultHost     = "127.0.0.1"
	defaultPort     = 18790
	maxAskBodyBytes = 1 << 20
	requestIDHeader = "X-Request-ID"
)

// Asker requests authorization for one action.
type Asker interface {
	Ask(ctx context.Context, in approval.AskInput) (*approval.Result, error)
}

// Server runs the gateway HTTP listener.
type Server struct {
	addr       string
	httpServer *http.Server
}

// New creates a server for cfg. Empty host and port fall back to
// 127.0.0.1:18790.
func New(cfg config.GatewayConfig, asker Asker) *Server {
	host := strings.TrimSpace(cfg.Host)
	if host == "" {
		host = defaultHost
	}
	port := cfg.Port
	if port <= 0 {
		port = defaultPort
	}

	addr := net.JoinHostPort(host, strconv.Itoa(port))
	return &Server{
		addr: addr,
		httpServer: &http.Server{
			Addr:              addr,
			Handler:           NewHandler(cfg.Token, asker),
			ReadHeaderTimeout: 5 * time.Second,
		},
	}
}

func (s *Server) Addr() string { return s.addr }

// Start blocks serving requests until Shutdown.
func (s *Server) Start() error {
	slog.Info("gateway listening", "addr", s.addr)
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown stops accepting requests and waits for in-flight asks until ctx
// expires.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

type askRequest struct {
	ToolName   string          `json:"tool_name"`
	ArgsJSON   string          `json:"args_json"`
	Args       json.RawMessage `json:"args"`
	RiskReason string          `json:"risk_reason"`
	SessionID  string          `json:"session_id"`
}

// argsJSON prefers args_json and falls back to an inline args value.
func (r askRequest) argsJSON() string {
	if strings.TrimSpace(r.ArgsJSON) == "" && len(r.Args) > 0 {
		return string(r.Args)
	}
	return r.ArgsJSON
}

type askResponse struct {
	Status            approval.Status `json:"status"`
	AuthorizedPayload json.RawMessage `json:"authorized_payload"`
	Patched           bool            `json:"patched"`
	ApprovalRequestID string          `json:"approval_request_id"`
	RequestID         string          `json:"request_id"`
}

type errorResponse struct {
	Code      string `json:"code"`
	Message   string `json:"message"`
	RequestID string `json:"request_id"`
}

type handler struct {
	token string
	asker Asker
}

// NewHandler returns the gateway routes. /ask requires the bearer token
// when one is set; /health, /version and /metrics are open.
func NewHandler(token string, asker Asker) http.Handler {
	h := &handler{token: strings.TrimSpace(token), asker: asker}

	mux := http.NewServeMux()
	mux.HandleFunc("/health", allow(http.MethodGet, h.health))
	mux.HandleFunc("/version", allow(http.MethodGet, h.version))
	mux.Handle("/metrics", metrics.Handler())
	mux.HandleFunc("/ask", allow(http.MethodPost, h.ask))
	return mux
}

// allow rejects requests whose method is not method.
func allow(method string, next func(http.ResponseWriter, *http.Request, string)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		requestID := requestIDFrom(r)
		if r.Method != method {
			w.Header().Set("Allow", method)
			writeError(w, http.StatusMethodNotAllowed, errorResponse{Code: "method_not_allowed", Message: "method not allowed", RequestID: requestID})
			return
		}
		next(w, r, requestID)
	}
}

func (h *handler) health(w http.ResponseWriter, _ *http.Request, requestID string) {
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "request_id": requestID})
}

func (h *handler) version(w http.ResponseWriter, _ *http.Request, requestID string) {
	writeJSON(w, http.StatusOK, map[string]any{"version": version.Version, "request_id": requestID})
}

func (h *handler) ask(w http.ResponseWriter, r *http.Request, requestID string) {
	if h.token != "" && bearerToken(r) != h.token {
		writeError(w, http.StatusUnauthorized, errorResponse{Code: "unauthorized", Message: "missing or invalid bearer token", RequestID: requestID})
		return
	}

	var req askRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxAskBodyBytes)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, errorResponse{Code: "bad_request", Message: "invalid json request", RequestID: requestID})
		return
	}
	if h.asker == nil {
		writeError(w, http.StatusInternalServerError, errorResponse{Code: approval.CodeInternalError, Message: "approval gate is not configured", RequestID: requestID})
		return
	}

	ctx := audit.WithCaller(r.Context(), audit.Caller{
		Source:    "gateway",
		SessionID: req.SessionID,
		CallerID:  requestID,
	})
	res, err := h.asker.Ask(ctx, approval.AskInput{
		ToolName:   req.ToolName,
		ArgsJSON:   req.argsJSON(),
		RiskReason: req.RiskReason,
	})
	if err != nil {
		status, code := classifyError(err)
		slog.Warn("gateway ask failed", "request_id", requestID, "tool", req.ToolName, "code", code, "error", err)
		writeError(w, status, errorResponse{Code: code, Message: err.Error(), RequestID: requestID})
		return
	}

	writeJSON(w, http.StatusOK, askResponse{
		Status:            res.Status,
		AuthorizedPayload: res.AuthorizedPayload,
		Patched:           res.Patched,
		ApprovalRequestID: res.RequestID,
		RequestID:         requestID,
	})
}

func classifyError(err error) (int, string) {
	code := approval.ErrorCode(err)
	switch code {
	case approval.CodeInvalidArgument:
		return http.StatusBadRequest, code
	case approval.CodeDenied:
		return http.StatusForbidden, code
	case approval.CodeTimeout:
		return http.StatusGatewayTimeout, code
	case approval.CodeUpstreamError, approval.CodeTransportError, approval.CodeDecryptionFailed:
		return http.StatusBadGateway, code
	case approval.CodeCanceled:
		return http.StatusServiceUnavailable, code
	default:
		return http.StatusInternalServerError, code
	}
}

func bearerToken(r *http.Request) string {
	scheme, token, ok := strings.Cut(strings.TrimSpace(r.Header.Get("Authorization")), " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return ""
	}
	return strings.TrimSpace(token)
}

func requestIDFrom(r *http.Request) string {
	if rid := strings.TrimSpace(r.Header.Get(requestIDHeader)); rid != "" {
		return rid
	}
	return uuid.NewString()
}

func writeError(w http.ResponseWriter, status int, body errorResponse) {
	writeJSON(w, status, body)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Debug("write gateway response", "error", err)
	}
}
