package httpapi

import (
	"bytes"
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/sheikh-saqib/referral-commission-ledger/internal/audit"
)

func (s *Server) handleGetEntry(w http.ResponseWriter, r *http.Request) {
	entry, err := s.svc.Ledger.Entry(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, entry)
}

func (s *Server) handleReverse(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Reason string `json:"reason" validate:"required,max=500"`
	}
	if err := decodeBody(r, &req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	entry, err := s.svc.Ledger.Reverse(r.Context(), chi.URLParam(r, "id"), req.Reason)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, entry)
}

func (s *Server) handleDistributionStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.svc.Engine.DistributionStats(r.Context())
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, stats)
}

func (s *Server) handleStatusCounts(w http.ResponseWriter, r *http.Request) {
	counts, err := s.svc.Engine.CountByStatus(r.Context())
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, counts)
}

func (s *Server) handleTotals(w http.ResponseWriter, r *http.Request) {
	totals, err := s.svc.Engine.SystemTotals(r.Context())
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, totals)
}

func (s *Server) handleAudit(w http.ResponseWriter, r *http.Request) {
	ok, err := s.svc.Engine.AuditTotals(r.Context())
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]bool{"consistent": ok})
}

func (s *Server) handleGetConfig(w http.ResponseWriter, r *http.Request) {
	params, err := s.svc.Params.All(r.Context())
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, params)
}

func (s *Server) handleSetConfig(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Value     json.RawMessage `json:"value"`
		UpdatedBy string          `json:"updated_by" validate:"omitempty,max=64"`
	}
	if err := decodeBody(r, &req); err != nil || len(req.Value) == 0 {
		s.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.UpdatedBy == "" {
		req.UpdatedBy = audit.Actor(r.Context())
	}

	key := chi.URLParam(r, "key")
	if err := s.svc.Params.Set(r.Context(), key, configValue(req.Value), req.UpdatedBy); err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "config updated", "key": key})
}

func (s *Server) handlePause(paused bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := s.svc.Params.SetPaused(r.Context(), paused, audit.Actor(r.Context())); err != nil {
			s.writeDomainError(w, r, err)
			return
		}
		s.writeJSON(w, http.StatusOK, map[string]bool{"paused": paused})
	}
}

func (s *Server) handleAdminActions(w http.ResponseWriter, r *http.Request) {
	limit, err := intParam(r.URL.Query().Get("limit"))
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid limit")
		return
	}
	actions, err := s.svc.Audit.Recent(r.Context(), limit)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, actions)
}

// configValue turns a JSON literal into the Go value whose type the
// parameter store infers: numbers become decimals, strings and booleans stay
// as they are, anything else is kept as JSON.
func configValue(raw json.RawMessage) any {
	raw = bytes.TrimSpace(raw)
	if bytes.Equal(raw, []byte("null")) {
		return raw
	}
	var b bool
	if err := json.Unmarshal(raw, &b); err == nil {
		return b
	}
	var str string
	if err := json.Unmarshal(raw, &str); err == nil {
		return str
	}
	var d decimal.Decimal
	if len(raw) > 0 && raw[0] != '"' {
		if err := d.UnmarshalJSON(raw); err == nil {
			return d
		}
	}
	return raw
}
