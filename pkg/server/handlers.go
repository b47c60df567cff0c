package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"mercator-hq/interpose/pkg/inventory"
)

// maxQueryLimit caps inventory listings.
const maxQueryLimit = 1000

// handleRootPEM serves the root certificate for installation in trust stores.
func (s *Server) handleRootPEM(w http.ResponseWriter, r *http.Request) {
	if !allowRead(w, r) {
		return
	}
	w.Header().Set("Content-Type", "application/x-pem-file")
	w.Header().Set("Content-Disposition", `attachment; filename="interpose-ca.pem"`)
	w.Write(s.deps.Root.CertificatePEM)
}

func (s *Server) handleEndpoints(w http.ResponseWriter, r *http.Request) {
	if !allowRead(w, r) {
		return
	}
	writeJSON(w, http.StatusOK, s.deps.Endpoints.Snapshots())
}

func (s *Server) handleTunnels(w http.ResponseWriter, r *http.Request) {
	if !allowRead(w, r) {
		return
	}
	writeJSON(w, http.StatusOK, s.deps.Tunnels.Tunnels())
}

// handleCertificates lists issued certificates.
//
// Query parameters: domain, serial, since (RFC 3339), limit.
func (s *Server) handleCertificates(w http.ResponseWriter, r *http.Request) {
	if !allowRead(w, r) {
		return
	}
	q := r.URL.Query()

	limit, err := parseLimit(q.Get("limit"), 100)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	query := &inventory.CertificateQuery{
		Domain: q.Get("domain"),
		Serial: q.Get("serial"),
		Limit:  limit,
	}
	if since := q.Get("since"); since != "" {
		t, err := time.Parse(time.RFC3339, since)
		if err != nil {
			writeError(w, http.StatusBadRequest, "since must be an RFC 3339 timestamp")
			return
		}
		query.IssuedAfter = t
	}

	records, err := s.deps.Inventory.QueryCertificates(r.Context(), query)
	if err != nil {
		s.logger.ErrorContext(r.Context(), "certificate query failed", "error", err)
		writeError(w, http.StatusInternalServerError, "inventory query failed")
		return
	}
	writeJSON(w, http.StatusOK, records)
}

// handleTunnelHistory lists finished tunnels.
//
// Query parameters: domain, mode, outcome, since (RFC 3339), limit, offset.
func (s *Server) handleTunnelHistory(w http.ResponseWriter, r *http.Request) {
	if !allowRead(w, r) {
		return
	}
	q := r.URL.Query()

	limit, err := parseLimit(q.Get("limit"), 100)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	offset := 0
	if v := q.Get("offset"); v != "" {
		if offset, err = strconv.Atoi(v); err != nil || offset < 0 {
			writeError(w, http.StatusBadRequest, "offset must be a non-negative integer")
			return
		}
	}
	query := &inventory.TunnelQuery{
		Domain:  q.Get("domain"),
		Mode:    q.Get("mode"),
		Outcome: q.Get("outcome"),
		Limit:   limit,
		Offset:  offset,
	}
	if since := q.Get("since"); since != "" {
		t, err := time.Parse(time.RFC3339, since)
		if err != nil {
			writeError(w, http.StatusBadRequest, "since must be an RFC 3339 timestamp")
			return
		}
		query.StartTime = t
	}

	records, err := s.deps.Inventory.QueryTunnels(r.Context(), query)
	if err != nil {
		s.logger.ErrorContext(r.Context(), "tunnel query failed", "error", err)
		writeError(w, http.StatusInternalServerError, "inventory query failed")
		return
	}
	total, err := s.deps.Inventory.CountTunnels(r.Context(), &inventory.TunnelQuery{
		Domain:    query.Domain,
		Mode:      query.Mode,
		Outcome:   query.Outcome,
		StartTime: query.StartTime,
	})
	if err != nil {
		s.logger.ErrorContext(r.Context(), "tunnel count failed", "error", err)
		writeError(w, http.StatusInternalServerError, "inventory query failed")
		return
	}

	writeJSON(w, http.StatusOK, struct {
		Total   int64                     `json:"total"`
		Tunnels []*inventory.TunnelRecord `json:"tunnels"`
	}{total, records})
}

func parseLimit(v string, def int) (int, error) {
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 1 {
		return 0, errBadLimit
	}
	if n > maxQueryLimit {
		n = maxQueryLimit
	}
	return n, nil
}

var errBadLimit = errors.New("limit must be a positive integer")

// allowRead answers 405 for anything but GET and HEAD.
func allowRead(w http.ResponseWriter, r *http.Request) bool {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		w.Header().Set("Allow", "GET, HEAD")
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, message string) {
	writeJSON(w, code, map[string]string{"error": message})
}
