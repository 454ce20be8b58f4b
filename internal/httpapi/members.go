package httpapi

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/sheikh-saqib/referral-commission-ledger/internal/commission"
	"github.com/sheikh-saqib/referral-commission-ledger/internal/ledger"
	"github.com/sheikh-saqib/referral-commission-ledger/internal/models"
)

type createMemberRequest struct {
	ID         string              `json:"id" validate:"required,max=64"`
	Name       string              `json:"name" validate:"required,max=255"`
	ReferrerID string              `json:"referrer_id" validate:"omitempty,max=64"`
	Status     models.MemberStatus `json:"status" validate:"omitempty,oneof=pending approved"`
}

type createMemberResponse struct {
	Member       models.Account    `json:"member"`
	Distribution commission.Result `json:"distribution"`
}

func (s *Server) handleCreateMember(w http.ResponseWriter, r *http.Request) {
	var req createMemberRequest
	if err := decodeBody(r, &req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	account, res, err := s.svc.Lifecycle.CreateMember(r.Context(), commission.NewMember{
		ID:         req.ID,
		Name:       req.Name,
		ReferrerID: req.ReferrerID,
		Status:     req.Status,
	})
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, createMemberResponse{Member: account, Distribution: res})
}

func (s *Server) handleGetMember(w http.ResponseWriter, r *http.Request) {
	account, err := s.svc.Lifecycle.Member(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, account)
}

func (s *Server) handleApprove(w http.ResponseWriter, r *http.Request) {
	res, err := s.svc.Lifecycle.Approve(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleReject(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := s.svc.Lifecycle.Reject(r.Context(), id); err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"status": string(models.StatusRejected), "member_id": id})
}

func (s *Server) handleSetCommissionRate(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Rate *decimal.Decimal `json:"rate"`
	}
	if err := decodeBody(r, &req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := s.svc.Lifecycle.SetCommissionRate(r.Context(), chi.URLParam(r, "id"), req.Rate); err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleBalance(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	balance, err := s.svc.Ledger.Balance(r.Context(), id)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"member_id": id, "balance": balance})
}

func (s *Server) handleReconcile(w http.ResponseWriter, r *http.Request) {
	rec, err := s.svc.Ledger.Reconcile(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, rec)
}

func (s *Server) handleTransactions(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	page, err := intParam(q.Get("page"))
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "page must be an integer")
		return
	}
	size, err := intParam(q.Get("page_size"))
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "page_size must be an integer")
		return
	}

	out, err := s.svc.Ledger.UserTransactions(r.Context(), chi.URLParam(r, "id"), ledger.Page{
		Page:      page,
		PageSize:  size,
		SortBy:    q.Get("sort_by"),
		SortOrder: q.Get("sort_order"),
	})
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleAdjust(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Amount decimal.Decimal `json:"amount"`
		Note   string          `json:"note" validate:"required,max=500"`
	}
	if err := decodeBody(r, &req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	entry, err := s.svc.Ledger.ManualAdjust(r.Context(), chi.URLParam(r, "id"), req.Amount, req.Note)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, entry)
}

func (s *Server) handleInject(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Amount decimal.Decimal `json:"amount"`
		Note   string          `json:"note" validate:"max=500"`
	}
	if err := decodeBody(r, &req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	entry, err := s.svc.Ledger.Inject(r.Context(), chi.URLParam(r, "id"), req.Amount, req.Note)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, entry)
}

func (s *Server) handleUpline(w http.ResponseWriter, r *http.Request) {
	edges, err := s.svc.Graph.UplineChain(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, edges)
}

func (s *Server) handleDownline(w http.ResponseWriter, r *http.Request) {
	level, err := intParam(r.URL.Query().Get("level"))
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "level must be an integer")
		return
	}
	members, err := s.svc.Graph.DownlineByLevel(r.Context(), chi.URLParam(r, "id"), level)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, members)
}

func (s *Server) handleDownlineGrouped(w http.ResponseWriter, r *http.Request) {
	counts, err := s.svc.Graph.DownlineGrouped(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, counts)
}

func intParam(v string) (int, error) {
	if v == "" {
		return 0, nil
	}
	return strconv.Atoi(v)
}
