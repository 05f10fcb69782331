// Package registry tracks the tool services the orchestrator knows about:
// where they live, how they speak, and how healthy they have been lately.
package registry

import (
	"fmt"
	"sort"
	"sync"
	"time"
)

// Health is a service's last observed condition.
type Health string

const (
	HealthUnknown      Health = "unknown"
	HealthConnecting   Health = "connecting"
	HealthHealthy      Health = "healthy"
	HealthUnhealthy    Health = "unhealthy"
	HealthDisconnected Health = "disconnected"
	HealthError        Health = "error"
)

// Kind is the transport variant a service speaks.
type Kind string

const (
	// KindRPC is a message-oriented service reached through a persistent
	// tool client.
	KindRPC Kind = "rpc"

	// KindHTTP is a request/response service reached by one-shot POSTs.
	KindHTTP Kind = "http"
)

// emaAlpha weights the newest sample in the response-time average. 0.3
// follows recent latency without thrashing on a single slow call.
const emaAlpha = 0.3

// ServiceInfo describes one registered service. The health fields mutate on
// every call outcome and health probe; the rest is fixed at registration.
type ServiceInfo struct {
	Name         string            `json:"name"`
	Host         string            `json:"host"`
	Port         int               `json:"port"`
	Capabilities []string          `json:"capabilities,omitempty"`
	Kind         Kind              `json:"kind"`
	Health       Health            `json:"health"`
	LastSeen     time.Time         `json:"last_seen"`
	ResponseTime time.Duration     `json:"response_time"`
	TotalCalls   int64             `json:"total_calls"`
	ErrorCount   int64             `json:"error_count"`
	Metadata     map[string]string `json:"metadata,omitempty"`
}

// Endpoint renders host:port.
func (s *ServiceInfo) Endpoint() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// ErrorRate is the fraction of calls that failed, 0 when nothing was called.
func (s *ServiceInfo) ErrorRate() float64 {
	if s.TotalCalls == 0 {
		return 0
	}
	return float64(s.ErrorCount) / float64(s.TotalCalls)
}

// Registry is a concurrency-safe table of ServiceInfo keyed by name.
type Registry struct {
	mu       sync.RWMutex
	services map[string]*ServiceInfo
}

// New creates an empty registry.
func New() *Registry {
	return &Registry{services: make(map[string]*ServiceInfo)}
}

// Register adds a service. Name and kind are mandatory; duplicate names are
// rejected.
func (r *Registry) Register(info ServiceInfo) error {
	if info.Name == "" {
		return fmt.Errorf("registry: service must have a name")
	}
	if info.Kind != KindRPC && info.Kind != KindHTTP {
		return fmt.Errorf("registry: service %q has invalid kind %q", info.Name, info.Kind)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.services[info.Name]; ok {
		return fmt.Errorf("registry: service %q already registered", info.Name)
	}
	if info.Health == "" {
		info.Health = HealthUnknown
	}
	r.services[info.Name] = &info
	return nil
}

// Deregister removes a service. Unknown names are a no-op.
func (r *Registry) Deregister(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.services, name)
}

// Get returns a copy of the named service's info.
func (r *Registry) Get(name string) (ServiceInfo, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.services[name]
	if !ok {
		return ServiceInfo{}, false
	}
	return *s, true
}

// List returns copies of every service, sorted by name.
func (r *Registry) List() []ServiceInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]ServiceInfo, 0, len(r.services))
	for _, s := range r.services {
		out = append(out, *s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// SetHealth overwrites the named service's health and stamps LastSeen.
func (r *Registry) SetHealth(name string, h Health) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if s, ok := r.services[name]; ok {
		s.Health = h
		s.LastSeen = time.Now()
	}
}

// RecordSuccess folds one successful call into the service's metrics.
func (r *Registry) RecordSuccess(name string, elapsed time.Duration) {
	r.record(name, elapsed, true)
}

// RecordFailure folds one failed call into the service's metrics: the error
// counter grows and health flips to error.
func (r *Registry) RecordFailure(name string, elapsed time.Duration) {
	r.record(name, elapsed, false)
}

// RecordProbe folds a health-probe outcome into the table without touching
// TotalCalls, which tracks real usage. Probe errors still count toward
// ErrorCount.
func (r *Registry) RecordProbe(name string, elapsed time.Duration, h Health) {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.services[name]
	if !ok {
		return
	}

	if elapsed > 0 {
		if s.ResponseTime == 0 {
			s.ResponseTime = elapsed
		} else {
			s.ResponseTime = time.Duration(emaAlpha*float64(elapsed) + (1-emaAlpha)*float64(s.ResponseTime))
		}
	}
	s.LastSeen = time.Now()
	s.Health = h
	if h == HealthError {
		s.ErrorCount++
	}
}

func (r *Registry) record(name string, elapsed time.Duration, success bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.services[name]
	if !ok {
		return
	}

	if s.ResponseTime == 0 {
		s.ResponseTime = elapsed
	} else {
		s.ResponseTime = time.Duration(emaAlpha*float64(elapsed) + (1-emaAlpha)*float64(s.ResponseTime))
	}
	s.TotalCalls++
	s.LastSeen = time.Now()

	if success {
		s.Health = HealthHealthy
	} else {
		s.ErrorCount++
		s.Health = HealthError
	}
}
