package orchestrator

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/halcyonhq/halcyon/internal/registry"
)

// Handler returns the orchestrator's HTTP API. Every response carries CORS
// headers; downstream failures still answer 200 with the failure inside the
// command envelope. Non-2xx is reserved for malformed requests and bugs.
func (o *Orchestrator) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/command", o.handleCommand)
	mux.HandleFunc("GET /api/services", o.handleServices)
	mux.HandleFunc("GET /api/health", o.handleHealth)
	mux.HandleFunc("GET /api/analytics", o.handleAnalytics)
	return cors(mux)
}

// cors adds permissive cross-origin headers and answers preflights.
// Deployments that need tighter origins put a proxy in front.
func cors(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h := w.Header()
		h.Set("Access-Control-Allow-Origin", "*")
		h.Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		h.Set("Access-Control-Allow-Headers", "Content-Type")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (o *Orchestrator) handleCommand(w http.ResponseWriter, r *http.Request) {
	var req CommandRequest
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid JSON body"})
		return
	}
	if strings.TrimSpace(req.Text) == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "text is required"})
		return
	}

	resp := o.ProcessCommand(r.Context(), req)
	writeJSON(w, http.StatusOK, resp)
}

func (o *Orchestrator) handleServices(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"services": o.reg.List()})
}

func (o *Orchestrator) handleHealth(w http.ResponseWriter, r *http.Request) {
	if name := r.URL.Query().Get("service"); name != "" {
		info, ok := o.reg.Get(name)
		if !ok {
			writeJSON(w, http.StatusNotFound, map[string]string{"error": "unknown service: " + name})
			return
		}
		writeJSON(w, http.StatusOK, map[string]registry.Health{name: info.Health})
		return
	}

	health := make(map[string]registry.Health)
	for _, info := range o.reg.List() {
		health[info.Name] = info.Health
	}
	writeJSON(w, http.StatusOK, health)
}

// analyticsPoint is one service's value for the requested metric.
type analyticsPoint struct {
	Service string  `json:"service"`
	Metric  string  `json:"metric"`
	Value   float64 `json:"value"`
}

func (o *Orchestrator) handleAnalytics(w http.ResponseWriter, r *http.Request) {
	metric := r.URL.Query().Get("metric")
	switch metric {
	case "", "response_time", "error_rate", "usage":
	default:
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "unknown metric: " + metric})
		return
	}
	if metric == "" {
		metric = "response_time"
	}

	if name := r.URL.Query().Get("service"); name != "" {
		info, ok := o.reg.Get(name)
		if !ok {
			writeJSON(w, http.StatusNotFound, map[string]string{"error": "unknown service: " + name})
			return
		}
		writeJSON(w, http.StatusOK, analyticsPoint{Service: name, Metric: metric, Value: metricValue(&info, metric)})
		return
	}

	points := make([]analyticsPoint, 0)
	for _, info := range o.reg.List() {
		points = append(points, analyticsPoint{Service: info.Name, Metric: metric, Value: metricValue(&info, metric)})
	}
	writeJSON(w, http.StatusOK, map[string]any{"metric": metric, "services": points})
}

func metricValue(info *registry.ServiceInfo, metric string) float64 {
	switch metric {
	case "error_rate":
		return info.ErrorRate()
	case "usage":
		return float64(info.TotalCalls)
	default:
		return info.ResponseTime.Seconds()
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, `{"error":"encoding failed"}`, http.StatusInternalServerError)
	}
}
