// Package stats assembles the runtime snapshot served at /api/stats.
package stats

import (
	"os"
	"runtime"
	"time"

	"github.com/shirou/gopsutil/v3/process"

	"github.com/answerhub/backend/internal/eventlog"
	"github.com/answerhub/backend/internal/hub"
	"github.com/answerhub/backend/internal/session"
)

type Snapshot struct {
	UptimeSeconds  int64   `json:"uptimeSeconds"`
	SessionsActive int     `json:"sessionsActive"`
	SessionsTotal  int     `json:"sessionsTotal"`
	Subscribers    int     `json:"subscribers"`
	EventsAppended int64   `json:"eventsAppended"`
	Goroutines     int     `json:"goroutines"`
	RSSBytes       uint64  `json:"rssBytes"`
	CPUPercent     float64 `json:"cpuPercent"`
}

type Collector struct {
	store     *session.Store
	hub       *hub.Hub
	log       *eventlog.Log
	proc      *process.Process
	startedAt time.Time
}

func NewCollector(store *session.Store, h *hub.Hub, l *eventlog.Log) *Collector {
	// Process handle lookup can only fail for a PID that doesn't exist;
	// ours does. A nil proc just zeroes the process fields.
	proc, _ := process.NewProcess(int32(os.Getpid()))
	return &Collector{
		store:     store,
		hub:       h,
		log:       l,
		proc:      proc,
		startedAt: time.Now(),
	}
}

func (c *Collector) Snapshot() Snapshot {
	s := Snapshot{
		UptimeSeconds:  int64(time.Since(c.startedAt).Seconds()),
		SessionsActive: c.store.ActiveCount(),
		SessionsTotal:  len(c.store.GetAll()),
		Subscribers:    c.hub.TotalSubscribers(),
		EventsAppended: c.log.TotalAppended(),
		Goroutines:     runtime.NumGoroutine(),
	}
	if c.proc != nil {
		if mem, err := c.proc.MemoryInfo(); err == nil && mem != nil {
			s.RSSBytes = mem.RSS
		}
		if cpu, err := c.proc.CPUPercent(); err == nil {
			s.CPUPercent = cpu
		}
	}
	return s
}
