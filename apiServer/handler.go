package apiServer

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	cipherwatt "github.com/cipherwatt/cipherwatt"
	"github.com/cipherwatt/cipherwatt/pkg/types"
)

func statusOf(err error) int {
	switch {
	case errors.Is(err, types.ErrNotFound), errors.Is(err, types.ErrUnknownSystem):
		return http.StatusNotFound
	case errors.Is(err, types.ErrAlreadyRevealed), errors.Is(err, types.ErrRequestPending):
		return http.StatusConflict
	case errors.Is(err, types.ErrInvalidProof):
		return http.StatusBadRequest
	case errors.Is(err, cipherwatt.ErrNotStarted), errors.Is(err, cipherwatt.ErrClosed):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) fail(w http.ResponseWriter, err error) {
	http.Error(w, err.Error(), statusOf(err))
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.log.Error("encoding response", "error", err)
	}
}

func parseID(r *http.Request) (uint64, error) {
	id, err := strconv.ParseUint(r.PathValue("id"), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid submission id: %w", err)
	}
	return id, nil
}

func (s *Server) handleSubmit(w http.ResponseWriter, r *http.Request) {
	var req submitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, fmt.Sprintf("invalid request body: %v", err), http.StatusBadRequest)
		return
	}
	if len(req.UsageCt) == 0 || len(req.TimestampCt) == 0 || len(req.LoadCt) == 0 {
		http.Error(w, "usageCt, timestampCt and loadCt are required", http.StatusBadRequest)
		return
	}

	id, err := s.ledger.Submit(req.UsageCt, req.TimestampCt, req.LoadCt)
	if err != nil {
		s.fail(w, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, submitResponse{ID: id})
}

func (s *Server) handleGetSubmission(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	sub, err := s.ledger.GetSubmission(id)
	if err != nil {
		s.fail(w, err)
		return
	}
	rec, err := s.ledger.GetReveal(id)
	if err != nil {
		s.fail(w, err)
		return
	}

	s.writeJSON(w, http.StatusOK, submissionResponse{
		ID:         sub.ID,
		AcceptedAt: sub.AcceptedAt,
		Revealed:   rec.Revealed,
		Usage:      rec.Usage,
		Load:       rec.Load,
	})
}

func (s *Server) handleRequestReveal(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	requestID, err := s.ledger.RequestReveal(id)
	if err != nil {
		s.fail(w, err)
		return
	}
	s.writeJSON(w, http.StatusAccepted, revealResponse{RequestID: requestID})
}

func (s *Server) handleSystems(w http.ResponseWriter, r *http.Request) {
	keys, err := s.ledger.SystemKeys()
	if err != nil {
		s.fail(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, systemsResponse{SystemKeys: keys})
}

func (s *Server) handleGetSum(w http.ResponseWriter, r *http.Request) {
	key := r.PathValue("key")

	blob, err := s.ledger.GetSum(key)
	if err != nil {
		s.fail(w, err)
		return
	}

	resp := sumResponse{SystemKey: key, EncryptedSum: blob}
	if sum, ok, err := s.ledger.RevealedSum(key); err == nil && ok {
		resp.RevealedSum = &sum
	}
	s.writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleRequestSumReveal(w http.ResponseWriter, r *http.Request) {
	key := r.PathValue("key")

	requestID, err := s.ledger.RequestSumReveal(key)
	if err != nil {
		s.fail(w, err)
		return
	}
	s.writeJSON(w, http.StatusAccepted, revealResponse{RequestID: requestID})
}
