// Package httpserver exposes the node's JSON API: task submission, nonce
// and height queries, height advancement, event reads, balances, and the
// trust-fund operations.
package httpserver

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/rzbill/deferd/internal/ledger"
	"github.com/rzbill/deferd/internal/ledger/scheduler"
	"github.com/rzbill/deferd/internal/runtime"
	"github.com/rzbill/deferd/internal/trustfund"
	"github.com/rzbill/deferd/pkg/account"
)

type Server struct {
	rt  *runtime.Runtime
	srv *http.Server
	lis net.Listener
}

func New(rt *runtime.Runtime) *Server {
	mux := http.NewServeMux()
	s := &Server{rt: rt, srv: &http.Server{Handler: cors(mux)}}
	mux.HandleFunc("/v1/healthz", s.handleHealth)
	mux.HandleFunc("/v1/tasks/schedule", s.handleSchedule)
	mux.HandleFunc("/v1/nonce", s.handleNonce)
	mux.HandleFunc("/v1/height", s.handleHeight)
	mux.HandleFunc("/v1/height/advance", s.handleAdvance)
	mux.HandleFunc("/v1/events", s.handleEvents)
	mux.HandleFunc("/v1/balances", s.handleBalance)
	mux.HandleFunc("/v1/balances/credit", s.handleCredit)
	mux.HandleFunc("/v1/methods", s.handleMethods)
	mux.HandleFunc("/v1/trustfund/beneficiaries", s.handleSetBeneficiaries)
	mux.HandleFunc("/v1/trustfund/switch", s.handleSetSwitch)
	mux.HandleFunc("/v1/trustfund/clockin", s.handleClockIn)
	mux.HandleFunc("/v1/trustfund/deposit", s.handleDeposit)
	mux.HandleFunc("/v1/trustfund/withdraw", s.handleWithdraw)
	mux.HandleFunc("/v1/trustfund/status", s.handleFundStatus)
	return s
}

// Handler returns the root handler, for tests.
func (s *Server) Handler() http.Handler { return s.srv.Handler }

func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	l, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	s.lis = l
	errCh := make(chan error, 1)
	go func() { errCh <- s.srv.Serve(l) }()
	select {
	case <-ctx.Done():
		cctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.srv.Shutdown(cctx)
		return nil
	case err := <-errCh:
		return err
	}
}

func (s *Server) Close() {
	if s.lis != nil {
		_ = s.lis.Close()
	}
}

func cors(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if err := s.rt.CheckHealth(r.Context()); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "not_serving"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type scheduleReq struct {
	Submitter string          `json:"submitter"`
	Nonce     uint64          `json:"nonce"`
	DueHeight uint64          `json:"dueHeight"`
	Method    string          `json:"method"`
	Params    json.RawMessage `json:"params"`
}

func (s *Server) handleSchedule(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	var req scheduleReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	submitter, err := account.Parse(req.Submitter)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	task := ledger.Task{
		Submitter: submitter,
		Nonce:     req.Nonce,
		DueHeight: req.DueHeight,
		Action:    ledger.Action{Method: req.Method, Params: req.Params},
	}
	if err := s.rt.Schedule(r.Context(), task); err != nil {
		if errors.Is(err, scheduler.ErrInvalidNonce) {
			writeError(w, http.StatusConflict, err)
			return
		}
		writeError(w, http.StatusBadRequest, err)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

func (s *Server) handleNonce(w http.ResponseWriter, r *http.Request) {
	acct, err := account.Parse(r.URL.Query().Get("account"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	nonce, err := s.rt.ExpectedNonce(acct)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]uint64{"nonce": nonce})
}

func (s *Server) handleHeight(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]uint64{"height": s.rt.Height()})
}

func (s *Server) handleAdvance(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	h, err := s.rt.AdvanceHeight(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]uint64{"height": h})
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	from, _ := strconv.ParseUint(q.Get("from"), 10, 64)
	limit, _ := strconv.Atoi(q.Get("limit"))
	evs, err := s.rt.Events(from, limit, q.Get("filter"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"events": evs})
}

func (s *Server) handleBalance(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	acct, err := account.Parse(q.Get("account"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	asset := q.Get("asset")
	if asset == "" {
		asset = "native"
	}
	bal, err := s.rt.Balance(asset, acct)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"asset": asset, "account": acct.String(), "amount": bal})
}

type creditReq struct {
	Account string `json:"account"`
	Asset   string `json:"asset"`
	Amount  uint64 `json:"amount"`
}

// handleCredit mints balances for development and testing.
func (s *Server) handleCredit(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	var req creditReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	acct, err := account.Parse(req.Account)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if req.Asset == "" {
		req.Asset = "native"
	}
	if err := s.rt.Credit(r.Context(), req.Asset, acct, req.Amount); err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleMethods(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"methods": s.rt.Methods()})
}

type beneficiariesReq struct {
	Grantor       string                       `json:"grantor"`
	Beneficiaries []trustfund.BeneficiaryShare `json:"beneficiaries"`
}

func (s *Server) handleSetBeneficiaries(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	var req beneficiariesReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	grantor, err := account.Parse(req.Grantor)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if err := s.rt.SetBeneficiaries(r.Context(), grantor, req.Beneficiaries); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type switchReq struct {
	Grantor   string              `json:"grantor"`
	Condition trustfund.Condition `json:"condition"`
}

func (s *Server) handleSetSwitch(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	var req switchReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	grantor, err := account.Parse(req.Grantor)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if err := s.rt.SetLivingSwitch(r.Context(), grantor, req.Condition); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type grantorReq struct {
	Grantor string `json:"grantor"`
}

func (s *Server) handleClockIn(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	var req grantorReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	grantor, err := account.Parse(req.Grantor)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if err := s.rt.ClockIn(r.Context(), grantor); err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type depositReq struct {
	Grantor string `json:"grantor"`
	Asset   string `json:"asset"`
	Amount  uint64 `json:"amount"`
}

func (s *Server) handleDeposit(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	var req depositReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	grantor, err := account.Parse(req.Grantor)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if req.Asset == "" {
		req.Asset = "native"
	}
	if err := s.rt.FundDeposit(r.Context(), grantor, req.Asset, req.Amount); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type withdrawReq struct {
	Caller  string `json:"caller"`
	Grantor string `json:"grantor"`
}

func (s *Server) handleWithdraw(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	var req withdrawReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	caller, err := account.Parse(req.Caller)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	grantor, err := account.Parse(req.Grantor)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if err := s.rt.FundWithdraw(r.Context(), caller, grantor); err != nil {
		if errors.Is(err, trustfund.ErrNotTripped) {
			writeError(w, http.StatusConflict, err)
			return
		}
		writeError(w, http.StatusBadRequest, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleFundStatus(w http.ResponseWriter, r *http.Request) {
	grantor, err := account.Parse(r.URL.Query().Get("grantor"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	fund := s.rt.Fund()
	shares, err := fund.Beneficiaries(grantor)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	cond, err := fund.LivingSwitch(grantor)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	last, err := fund.LastClockIn(grantor)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"grantor":       grantor.String(),
		"beneficiaries": shares,
		"condition":     cond,
		"lastClockIn":   last,
	})
}
