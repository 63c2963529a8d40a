package httpapi

import (
    "encoding/json"
    "net/http"
    "time"

    "github.com/prometheus/client_golang/prometheus/promhttp"
    "github.com/rs/zerolog"

    "github.com/travofoz/cdp-ninja-sub000/internal/infrastructure/config"
    obs "github.com/travofoz/cdp-ninja-sub000/internal/infrastructure/observability"
    "github.com/travofoz/cdp-ninja-sub000/internal/usecase"
)

type Deps struct {
    Cfg     config.Config
    Logger  *zerolog.Logger
    Metrics *obs.Metrics
    Bridge  *usecase.BridgeService
    Monitor *MonitorHub
}

func NewRouter(d *Deps) http.Handler {
    if d.Monitor == nil {
        d.Monitor = NewMonitorHub(d.Bridge, d.Logger, d.Cfg.ExposeSensitiveFields)
    }
    return withCORS(d.Cfg, buildBaseMux(d))
}

// buildBaseMux constructs the mux with all routes, without wrappers.
func buildBaseMux(d *Deps) *http.ServeMux {
    mux := http.NewServeMux()

    mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
        w.WriteHeader(http.StatusOK)
        _, _ = w.Write([]byte("ok"))
    })
    mux.HandleFunc("/readyz", func(w http.ResponseWriter, r *http.Request) {
        w.WriteHeader(http.StatusOK)
        _, _ = w.Write([]byte("ready"))
    })

    if d.Metrics != nil {
        mux.Handle("/metrics", promhttp.HandlerFor(d.Metrics.Registry(), promhttp.HandlerOpts{}))
    }

    mux.HandleFunc("/api/version", func(w http.ResponseWriter, r *http.Request) {
        w.Header().Set("Content-Type", "application/json")
        _ = json.NewEncoder(w).Encode(map[string]any{
            "name":    obs.ServiceName,
            "version": obs.Version,
            "commit":  obs.Commit,
            "time":    time.Now().UTC(),
        })
    })

    mux.HandleFunc("/api/domains", d.handleDomains)
    mux.HandleFunc("/api/domains/", d.handleDomainAction)
    mux.HandleFunc("/api/risk", d.handleRisk)

    mux.HandleFunc("/api/events", d.handleEvents)
    mux.HandleFunc("/api/events/stats", d.handleEventStats)
    mux.HandleFunc("/api/events/ws", d.Monitor.HandleWS)

    mux.HandleFunc("/api/command", d.handleCommand)
    mux.HandleFunc("/api/pool", d.handlePool)

    return mux
}

func withCORS(cfg config.Config, h http.Handler) http.Handler {
    return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
        w.Header().Set("Access-Control-Allow-Origin", cfg.CORSAllowOrigin)
        w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Caller, Sec-WebSocket-Protocol")
        w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
        if r.Method == http.MethodOptions {
            w.WriteHeader(http.StatusNoContent)
            return
        }
        h.ServeHTTP(w, r)
    })
}
