package metrics

import (
	"errors"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	once     sync.Once
	registry *Registry
)

// Registry holds all npfd metrics.
type Registry struct {
	// Control plane
	ControlRequests *prometheus.CounterVec
	ControlDenied   prometheus.Counter

	// Lifecycle
	EngineActive       prometheus.Gauge
	HooksRegistered    prometheus.Gauge
	DeviceRegistered   prometheus.Gauge
	ActivationFailures *prometheus.CounterVec
	Activations        prometheus.Counter
	Deactivations      prometheus.Counter

	// Engine
	RulesetLoads *prometheus.CounterVec

	// Interface shim
	IfMetaSets prometheus.Counter
}

// Get returns the global metrics registry, creating it if necessary.
func Get() *Registry {
	once.Do(func() {
		registry = newRegistry(prometheus.DefaultRegisterer)
	})
	return registry
}

func newRegistry(reg prometheus.Registerer) *Registry {
	f := promauto.With(reg)
	r := &Registry{}

	r.ControlRequests = f.NewCounterVec(prometheus.CounterOpts{
		Name: "npfd_control_requests_total",
		Help: "Control device requests by opcode and result",
	}, []string{"op", "result"})

	r.ControlDenied = f.NewCounter(prometheus.CounterOpts{
		Name: "npfd_control_denied_total",
		Help: "Control device requests and opens refused for lack of privilege",
	})

	r.EngineActive = f.NewGauge(prometheus.GaugeOpts{
		Name: "npfd_engine_active",
		Help: "1 while an engine context is published",
	})

	r.HooksRegistered = f.NewGauge(prometheus.GaugeOpts{
		Name: "npfd_hooks_registered",
		Help: "1 while packet hooks are attached",
	})

	r.DeviceRegistered = f.NewGauge(prometheus.GaugeOpts{
		Name: "npfd_control_device_registered",
		Help: "1 while the control device is registered",
	})

	r.ActivationFailures = f.NewCounterVec(prometheus.CounterOpts{
		Name: "npfd_activation_failures_total",
		Help: "Failed activations by the bring-up stage that failed",
	}, []string{"stage"})

	r.Activations = f.NewCounter(prometheus.CounterOpts{
		Name: "npfd_activations_total",
		Help: "Successful activations",
	})

	r.Deactivations = f.NewCounter(prometheus.CounterOpts{
		Name: "npfd_deactivations_total",
		Help: "Teardown runs, including rollbacks of failed activations",
	})

	r.RulesetLoads = f.NewCounterVec(prometheus.CounterOpts{
		Name: "npfd_ruleset_loads_total",
		Help: "Full ruleset replacements by result",
	}, []string{"result"})

	r.IfMetaSets = f.NewCounter(prometheus.CounterOpts{
		Name: "npfd_ifops_metadata_sets_total",
		Help: "Engine metadata writes on host interfaces",
	})

	return r
}

// RecordControl counts one dispatched control request.
func (r *Registry) RecordControl(op string, err error) {
	r.ControlRequests.WithLabelValues(op, resultString(err)).Inc()
}

// RecordLoad counts one ruleset replacement.
func (r *Registry) RecordLoad(err error) {
	r.RulesetLoads.WithLabelValues(resultString(err)).Inc()
}

// SetBool sets g to 1 or 0.
func SetBool(g prometheus.Gauge, v bool) {
	if v {
		g.Set(1)
		return
	}
	g.Set(0)
}

// Register adds c to the default registry, tolerating re-registration.
func Register(c prometheus.Collector) error {
	if err := prometheus.Register(c); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			return nil
		}
		return err
	}
	return nil
}

func resultString(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}
