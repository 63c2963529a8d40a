package httpapi

import (
    "context"
    "encoding/json"
    "errors"
    "net/http"

    "github.com/travofoz/cdp-ninja-sub000/internal/adapters/cdp"
    "github.com/travofoz/cdp-ninja-sub000/internal/usecase"
)

type apiErrorBody struct {
    Error apiError `json:"error"`
}

type apiError struct {
    Code    string      `json:"code"`
    Message string      `json:"message"`
    Details interface{} `json:"details,omitempty"`
}

func writeError(w http.ResponseWriter, status int, code string, message string, details interface{}) {
    if code == "" { code = http.StatusText(status) }
    w.Header().Set("Content-Type", "application/json")
    w.WriteHeader(status)
    _ = json.NewEncoder(w).Encode(apiErrorBody{Error: apiError{Code: code, Message: message, Details: details}})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
    w.Header().Set("Content-Type", "application/json")
    w.WriteHeader(status)
    _ = json.NewEncoder(w).Encode(v)
}

// writeBridgeError maps core failures to statuses. Order matters: an enable
// that timed out is both unavailable and a timeout, and reports as the latter.
// A dial that failed until the acquire deadline reports as connection lost.
func writeBridgeError(w http.ResponseWriter, err error, details interface{}) {
    switch {
    case errors.Is(err, cdp.ErrTimeout):
        writeError(w, http.StatusGatewayTimeout, "CDP_TIMEOUT", err.Error(), details)
    case errors.Is(err, cdp.ErrConnectionLost):
        writeError(w, http.StatusBadGateway, "CONNECTION_LOST", err.Error(), details)
    case errors.Is(err, context.DeadlineExceeded):
        writeError(w, http.StatusGatewayTimeout, "CDP_TIMEOUT", err.Error(), details)
    case errors.Is(err, cdp.ErrPoolExhausted), errors.Is(err, cdp.ErrPoolClosed):
        writeError(w, http.StatusServiceUnavailable, "POOL_UNAVAILABLE", err.Error(), details)
    case errors.Is(err, usecase.ErrDomainUnavailable):
        writeError(w, http.StatusServiceUnavailable, "DOMAIN_UNAVAILABLE", err.Error(), details)
    default:
        var pe *cdp.ProtocolError
        if errors.As(err, &pe) {
            writeError(w, http.StatusBadGateway, "CDP_ERROR", err.Error(), pe)
            return
        }
        writeError(w, http.StatusInternalServerError, "INTERNAL", err.Error(), details)
    }
}
