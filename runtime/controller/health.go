package controller

import "context"

// Component health values.
const (
	HealthOK       = "ok"
	HealthDegraded = "degraded"
	HealthDisabled = "disabled"
	HealthAbsent   = "absent"
)

// Health is the controller's component health report.
type Health struct {
	Status     string            `json:"status"`
	Components map[string]string `json:"components"`
}

// CheckHealth probes each component. The overall status is "degraded" when
// any component is; disabled or absent components are healthy by definition.
func (c *Controller) CheckHealth(ctx context.Context) Health {
	components := map[string]string{
		"llm":      HealthOK,
		"cache":    HealthDisabled,
		"semantic": HealthAbsent,
		"episodic": HealthOK,
	}
	if c.pinger != nil {
		if err := c.pinger.Ping(ctx); err != nil {
			components["llm"] = HealthDegraded
		}
	}
	if c.cache != nil {
		h := c.cache.Health(ctx)
		switch {
		case !h.Enabled:
			components["cache"] = HealthDisabled
		case h.Connected:
			components["cache"] = HealthOK
		default:
			components["cache"] = HealthDegraded
		}
	}
	if c.semantic != nil {
		components["semantic"] = HealthOK
	}

	status := HealthOK
	for _, v := range components {
		if v == HealthDegraded {
			status = HealthDegraded
		}
	}
	return Health{Status: status, Components: components}
}
