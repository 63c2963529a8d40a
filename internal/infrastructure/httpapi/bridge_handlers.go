package httpapi

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/travofoz/cdp-ninja-sub000/internal/adapters/cdp"
	"github.com/travofoz/cdp-ninja-sub000/internal/domain"
	"github.com/travofoz/cdp-ninja-sub000/pkg/shared/redact"
)

const defaultCaller = "api"

// callerOf identifies who holds a domain: body field, then X-Caller, then ?caller=.
func callerOf(r *http.Request, fromBody string) string {
	if s := strings.TrimSpace(fromBody); s != "" {
		return s
	}
	if s := strings.TrimSpace(r.Header.Get("X-Caller")); s != "" {
		return s
	}
	if s := strings.TrimSpace(r.URL.Query().Get("caller")); s != "" {
		return s
	}
	return defaultCaller
}

func queryBool(r *http.Request, key string) bool {
	v := r.URL.Query().Get(key)
	return v == "1" || v == "true"
}

func (d *Deps) handleDomains(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "use GET", nil)
		return
	}
	writeJSON(w, http.StatusOK, d.Bridge.Status())
}

func (d *Deps) handleDomainAction(w http.ResponseWriter, r *http.Request) {
	// path: /api/domains/{Domain}/(enable|disable)
	parts := strings.Split(strings.Trim(strings.TrimPrefix(r.URL.Path, "/api/domains/"), "/"), "/")
	if len(parts) != 2 {
		writeError(w, http.StatusNotFound, "NOT_FOUND", "resource not found", nil)
		return
	}
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "use POST", nil)
		return
	}
	dom, err := domain.ParseDomain(parts[0])
	if err != nil {
		writeError(w, http.StatusBadRequest, "UNKNOWN_DOMAIN", err.Error(), map[string]any{"known": domain.All})
		return
	}
	caller := callerOf(r, "")
	switch parts[1] {
	case "enable":
		if err := d.Bridge.EnableDomain(r.Context(), dom, caller); err != nil {
			writeBridgeError(w, err, map[string]any{"domain": dom})
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"domain": dom, "enabled": true, "caller": caller})
	case "disable":
		force := queryBool(r, "force")
		ok, err := d.Bridge.DisableDomain(r.Context(), dom, caller, force)
		if err != nil {
			writeBridgeError(w, err, map[string]any{"domain": dom})
			return
		}
		if !ok {
			writeError(w, http.StatusConflict, "DOMAIN_IN_USE", "domain is still held by other callers", map[string]any{"domain": dom})
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"domain": dom, "enabled": false})
	default:
		writeError(w, http.StatusNotFound, "NOT_FOUND", "resource not found", nil)
	}
}

func (d *Deps) handleRisk(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		writeJSON(w, http.StatusOK, map[string]any{"maxRiskLevel": d.Bridge.Status().MaxRiskLevel})
	case http.MethodPost:
		var body struct {
			Level string `json:"level"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			writeError(w, http.StatusBadRequest, "BAD_JSON", err.Error(), nil)
			return
		}
		level, err := domain.ParseRiskLevel(body.Level)
		if err != nil {
			writeError(w, http.StatusBadRequest, "BAD_RISK_LEVEL", err.Error(), nil)
			return
		}
		disabled, err := d.Bridge.SetRiskLevel(r.Context(), level)
		if err != nil {
			writeBridgeError(w, err, nil)
			return
		}
		if disabled == nil {
			disabled = []domain.Domain{}
		}
		writeJSON(w, http.StatusOK, map[string]any{"maxRiskLevel": level, "disabled": disabled})
	default:
		writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "use GET or POST", nil)
	}
}

// domainParam parses ?domain=; absent means all domains.
func domainParam(r *http.Request) (*domain.Domain, error) {
	raw := strings.TrimSpace(r.URL.Query().Get("domain"))
	if raw == "" {
		return nil, nil
	}
	d, err := domain.ParseDomain(raw)
	if err != nil {
		return nil, err
	}
	return &d, nil
}

func (d *Deps) handleEvents(w http.ResponseWriter, r *http.Request) {
	dom, err := domainParam(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "UNKNOWN_DOMAIN", err.Error(), nil)
		return
	}
	switch r.Method {
	case http.MethodDelete:
		d.Bridge.ClearEvents(dom)
		w.WriteHeader(http.StatusNoContent)
	case http.MethodGet:
		limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
		if limit <= 0 {
			limit = 100
		}
		events := d.Bridge.RecentEvents(dom, limit)
		if !d.Cfg.ExposeSensitiveFields {
			for i := range events {
				events[i].Params = redact.RedactRaw(events[i].Params)
			}
		}
		writeJSON(w, http.StatusOK, map[string]any{"items": events, "total": len(events)})
	default:
		writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "use GET or DELETE", nil)
	}
}

type eventStatsResponse struct {
	domain.EventStats
	StreamClients int `json:"streamClients"`
}

func (d *Deps) handleEventStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, eventStatsResponse{EventStats: d.Bridge.EventStats(), StreamClients: d.Monitor.Clients()})
}

func (d *Deps) handlePool(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, d.Bridge.PoolStats())
}

type commandRequest struct {
	Method    string          `json:"method"`
	Params    json.RawMessage `json:"params,omitempty"`
	TimeoutMs int             `json:"timeoutMs,omitempty"`
	Domains   []string        `json:"domains,omitempty"`
	Caller    string          `json:"caller,omitempty"`
}

func (d *Deps) handleCommand(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "use POST", nil)
		return
	}
	var req commandRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "BAD_JSON", err.Error(), nil)
		return
	}
	if strings.TrimSpace(req.Method) == "" {
		writeError(w, http.StatusBadRequest, "METHOD_REQUIRED", "method is required", nil)
		return
	}
	need := make([]domain.Domain, 0, len(req.Domains))
	for _, s := range req.Domains {
		dom, err := domain.ParseDomain(s)
		if err != nil {
			writeError(w, http.StatusBadRequest, "UNKNOWN_DOMAIN", err.Error(), nil)
			return
		}
		need = append(need, dom)
	}
	timeout := cdp.TimeoutFor(req.Method)
	if req.TimeoutMs > 0 {
		timeout = time.Duration(req.TimeoutMs) * time.Millisecond
		if timeout > cdp.ScriptTimeout {
			timeout = cdp.ScriptTimeout
		}
	}
	caller := callerOf(r, req.Caller)
	reply, err := d.Bridge.Execute(r.Context(), caller, req.Method, req.Params, timeout, need...)
	if err != nil {
		d.Logger.Debug().Err(err).Str("method", req.Method).Str("caller", caller).Msg("command failed")
		writeBridgeError(w, err, map[string]any{"method": req.Method})
		return
	}
	if reply.Error != nil {
		writeJSON(w, http.StatusOK, map[string]any{"id": reply.ID, "error": reply.Error})
		return
	}
	result := reply.Result
	if !d.Cfg.ExposeSensitiveFields {
		result = redact.RedactRaw(result)
	}
	if len(result) == 0 {
		result = json.RawMessage(`{}`)
	}
	writeJSON(w, http.StatusOK, map[string]any{"id": reply.ID, "result": result})
}
