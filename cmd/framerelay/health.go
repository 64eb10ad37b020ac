package main

import (
	"time"

	"github.com/c360/framerelay/broadcast"
	"github.com/c360/framerelay/component"
	"github.com/c360/framerelay/input/process"
	"github.com/c360/framerelay/natsclient"
	"github.com/c360/framerelay/pipeline"
)

// relayHealth adds the pipeline, hub and NATS connection to the managed
// components' health.
type relayHealth struct {
	manager    *component.Manager
	supervisor *process.Supervisor
	hub        *broadcast.Hub
	nats       *natsclient.Client
}

func (h relayHealth) Health() map[string]component.HealthStatus {
	now := time.Now()
	out := h.manager.Health()

	ps := component.HealthStatus{LastCheck: now}
	switch state := h.supervisor.PipelineState(); {
	case state != pipeline.StateClosed:
		ps.Healthy = true
	case h.supervisor.Status() == process.StatusRestarting:
		ps.Degraded = true
		ps.LastError = "stream closed, worker restarting"
	default:
		ps.LastError = "stream closed"
	}
	out["pipeline"] = ps

	out["hub"] = component.HealthStatus{Healthy: true, LastCheck: now}

	if h.nats != nil {
		st := h.nats.GetStatus()
		ns := component.HealthStatus{
			Healthy:    h.nats.IsHealthy(),
			LastCheck:  now,
			ErrorCount: int(st.FailureCount),
		}
		if !ns.Healthy {
			ns.LastError = "NATS " + st.Status.String()
			ns.Degraded = st.Status == natsclient.StatusReconnecting
		}
		out["nats"] = ns
	}
	return out
}
