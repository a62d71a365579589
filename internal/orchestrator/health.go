package orchestrator

import (
	"sort"
	"time"

	"github.com/MrSnakeDoc/noteparser/internal/service"
)

// Aggregate status values of a Report.
const (
	StatusHealthy   = "healthy"
	StatusDegraded  = "degraded"
	StatusUnhealthy = "unhealthy"
	StatusEmpty     = "empty"
	// StatusPending means services are registered but none was checked yet.
	StatusPending = "pending"
)

type ServiceHealth struct {
	Name      string     `json:"name"`
	State     string     `json:"state"`
	Healthy   bool       `json:"healthy"`
	LastCheck *time.Time `json:"last_check,omitempty"`
}

type Report struct {
	Status   string          `json:"status"`
	Services []ServiceHealth `json:"services"`
}

// Ready reports whether requests can be served: at least one service is
// registered and not every service failed its last check.
func (r Report) Ready() bool {
	return r.Status != StatusUnhealthy && r.Status != StatusEmpty
}

// Health reads the cached health of every registered service. It never
// triggers a remote check.
func (o *Orchestrator) Health() Report {
	o.mu.RLock()
	infos := make([]service.Info, 0, len(o.services))
	for _, svc := range o.services {
		infos = append(infos, svc.Info())
	}
	o.mu.RUnlock()

	return buildReport(infos)
}

func buildReport(infos []service.Info) Report {
	rep := Report{Services: make([]ServiceHealth, 0, len(infos))}
	healthy, failed := 0, 0
	for _, info := range infos {
		sh := ServiceHealth{Name: info.Name, State: info.StateName, Healthy: info.Healthy}
		if info.Checked() {
			last := info.LastHealthCheck
			sh.LastCheck = &last
			if info.Healthy {
				healthy++
			} else {
				failed++
			}
		}
		rep.Services = append(rep.Services, sh)
	}
	sort.Slice(rep.Services, func(i, j int) bool {
		return rep.Services[i].Name < rep.Services[j].Name
	})

	// services without a completed check count neither way
	switch {
	case len(infos) == 0:
		rep.Status = StatusEmpty
	case healthy+failed == 0:
		rep.Status = StatusPending
	case failed == 0:
		rep.Status = StatusHealthy
	case failed == len(infos):
		rep.Status = StatusUnhealthy
	default:
		rep.Status = StatusDegraded
	}
	return rep
}
