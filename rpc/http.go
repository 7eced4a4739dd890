package rpc

import (
	"crypto/subtle"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strings"

	"pollstake/core/ledger"
	"pollstake/native/poll"
	"pollstake/native/registry"
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

	codeValidation    = -32030
	codeTiming        = -32031
	codeAuthorization = -32032
	codeState         = -32033
	codeTransfer      = -32034
	codeNotFound      = -32035
)

// Server exposes the registry and poll engine over JSON-RPC 2.0. Mutating
// methods optionally require a bearer token supplied via POLLSTAKE_RPC_TOKEN.
type Server struct {
	engine    *poll.Engine
	registry  *registry.Registry
	ledger    *ledger.Ledger
	logger    *slog.Logger
	authToken string
}

func NewServer(engine *poll.Engine, reg *registry.Registry, led *ledger.Ledger, logger *slog.Logger) *Server {
	token := strings.TrimSpace(os.Getenv("POLLSTAKE_RPC_TOKEN"))
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		engine:    engine,
		registry:  reg,
		ledger:    led,
		logger:    logger,
		authToken: token,
	}
}

// Start serves JSON-RPC requests on addr until the listener fails.
func (s *Server) Start(addr string) error {
	s.logger.Info("starting JSON-RPC server", "addr", addr)
	mux := http.NewServeMux()
	mux.HandleFunc("/", s.handle)
	return http.ListenAndServe(addr, mux)
}

// Handler returns the RPC handler for embedding into an existing mux.
func (s *Server) Handler() http.Handler {
	return http.HandlerFunc(s.handle)
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

func (s *Server) handle(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, nil, codeInvalidRequest, "invalid_request", "POST required")
		return
	}
	body, err := io.ReadAll(io.LimitReader(r.Body, maxRequestBytes))
	if err != nil {
		writeError(w, http.StatusBadRequest, nil, codeParseError, "parse_error", err.Error())
		return
	}
	var req RPCRequest
	if err := json.Unmarshal(body, &req); err != nil {
		writeError(w, http.StatusBadRequest, nil, codeParseError, "parse_error", err.Error())
		return
	}
	if req.JSONRPC != "" && req.JSONRPC != jsonRPCVersion {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidRequest, "invalid_request", "unsupported jsonrpc version")
		return
	}
	switch req.Method {
	case "poll_deploy":
		s.handlePollDeploy(w, r, &req)
	case "poll_vote":
		s.handlePollVote(w, r, &req)
	case "poll_cancelVote":
		s.handlePollCancelVote(w, r, &req)
	case "poll_calculateWinners":
		s.handlePollCalculateWinners(w, r, &req)
	case "poll_claimCreator":
		s.handlePollClaimCreator(w, r, &req)
	case "poll_claimFee":
		s.handlePollClaimFee(w, r, &req)
	case "poll_claimRefund":
		s.handlePollClaimRefund(w, r, &req)
	case "poll_rescue":
		s.handlePollRescue(w, r, &req)
	case "poll_get":
		s.handlePollGet(w, r, &req)
	case "poll_results":
		s.handlePollResults(w, r, &req)
	case "poll_winners":
		s.handlePollWinners(w, r, &req)
	case "poll_isWinningOption":
		s.handlePollIsWinningOption(w, r, &req)
	case "poll_voters":
		s.handlePollVoters(w, r, &req)
	case "ledger_balance":
		s.handleLedgerBalance(w, r, &req)
	case "registry_list":
		s.handleRegistryList(w, r, &req)
	case "registry_listByCreator":
		s.handleRegistryListByCreator(w, r, &req)
	case "registry_policy":
		s.handleRegistryPolicy(w, r, &req)
	case "registry_setAdmin":
		s.handleRegistrySetAdmin(w, r, &req)
	case "registry_setFeeRecipient":
		s.handleRegistrySetFeeRecipient(w, r, &req)
	case "registry_setRescueRecipient":
		s.handleRegistrySetRescueRecipient(w, r, &req)
	case "registry_setFeeRate":
		s.handleRegistrySetFeeRate(w, r, &req)
	default:
		writeError(w, http.StatusNotFound, req.ID, codeMethodNotFound, "method_not_found", req.Method)
	}
}

func (s *Server) requireAuth(r *http.Request) *RPCError {
	if s.authToken == "" {
		return nil
	}
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	if !strings.HasPrefix(header, "Bearer ") {
		return &RPCError{Code: codeUnauthorized, Message: "unauthorized", Data: "bearer token required"}
	}
	supplied := strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
	if subtle.ConstantTimeCompare([]byte(supplied), []byte(s.authToken)) != 1 {
		return &RPCError{Code: codeUnauthorized, Message: "unauthorized", Data: "invalid token"}
	}
	return nil
}

func writeResult(w http.ResponseWriter, id interface{}, result interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(RPCResponse{JSONRPC: jsonRPCVersion, ID: id, Result: result})
}

func writeError(w http.ResponseWriter, status int, id interface{}, code int, message string, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(RPCResponse{
		JSONRPC: jsonRPCVersion,
		ID:      id,
		Error:   &RPCError{Code: code, Message: message, Data: data},
	})
}
