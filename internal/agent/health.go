package agent

import (
	"context"
	"os"
	"sync"
	"time"

	"go.uber.org/zap"
)

// ProbeConfig holds upstream health probe configuration.
type ProbeConfig struct {
	CheckInterval time.Duration
	ProbeTimeout  time.Duration
	FailThreshold int
}

// ProbeTarget names one Cloud Agent to watch.
type ProbeTarget struct {
	Name   string
	Client *Client
}

// MetricsRecordFunc is an optional callback for recording probe results.
type MetricsRecordFunc func(target string, up bool)

// Probe periodically checks the health endpoint of each Cloud Agent and logs
// a warning when an agent crosses the consecutive-failure threshold.
type Probe struct {
	targets    []ProbeTarget
	cfg        ProbeConfig
	mu         sync.Mutex
	failCounts map[string]int
	onMetrics  MetricsRecordFunc
	logger     *zap.Logger
}

// NewProbe creates a Probe over the given targets.
func NewProbe(targets []ProbeTarget, cfg ProbeConfig, logger *zap.Logger) *Probe {
	if cfg.CheckInterval == 0 {
		cfg.CheckInterval = time.Minute
	}
	if cfg.ProbeTimeout == 0 {
		cfg.ProbeTimeout = 10 * time.Second
	}
	if cfg.FailThreshold == 0 {
		cfg.FailThreshold = 3
	}
	return &Probe{
		targets:    targets,
		cfg:        cfg,
		failCounts: make(map[string]int),
		logger:     logger,
	}
}

// SetMetricsRecord configures the metrics recording callback.
func (p *Probe) SetMetricsRecord(fn MetricsRecordFunc) {
	p.onMetrics = fn
}

// Start runs the probe loop until quit is signalled.
func (p *Probe) Start(quit <-chan os.Signal) {
	ticker := time.NewTicker(p.cfg.CheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), p.cfg.CheckInterval-time.Second)
			p.CheckAll(ctx)
			cancel()
		case <-quit:
			return
		}
	}
}

// CheckAll probes every target once.
func (p *Probe) CheckAll(ctx context.Context) {
	var wg sync.WaitGroup
	for _, t := range p.targets {
		wg.Add(1)
		go func(t ProbeTarget) {
			defer wg.Done()

			probeCtx, cancel := context.WithTimeout(ctx, p.cfg.ProbeTimeout)
			defer cancel()
			_, err := t.Client.Health(probeCtx)
			up := err == nil

			if p.onMetrics != nil {
				p.onMetrics(t.Name, up)
			}

			p.mu.Lock()
			prev := p.failCounts[t.Name]
			if up {
				p.failCounts[t.Name] = 0
			} else {
				p.failCounts[t.Name]++
			}
			count := p.failCounts[t.Name]
			p.mu.Unlock()

			switch {
			case up && prev >= p.cfg.FailThreshold:
				p.logger.Info("cloud agent recovered", zap.String("agent", t.Name))
			case !up && count == p.cfg.FailThreshold:
				p.logger.Warn("cloud agent unreachable",
					zap.String("agent", t.Name),
					zap.Int("fail_count", count),
					zap.Error(err),
				)
			}
		}(t)
	}
	wg.Wait()
}
