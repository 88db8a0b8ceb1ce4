package llm

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/BaSui01/sophia/types"
)

// Prober 周期性探活全部供应商，驱动健康状态机。
// 探活成功是 unreachable 供应商重新上线的唯一途径。
type Prober struct {
	registry *Registry
	interval time.Duration
	timeout  time.Duration
	logger   *zap.Logger

	cancel context.CancelFunc
	done   chan struct{}
	once   sync.Once
}

// NewProber 创建探活器。interval 默认 30s，timeout 默认 5s。
func NewProber(registry *Registry, interval, timeout time.Duration, logger *zap.Logger) *Prober {
	if logger == nil {
		logger = zap.NewNop()
	}
	if interval <= 0 {
		interval = 30 * time.Second
	}
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Prober{
		registry: registry,
		interval: interval,
		timeout:  timeout,
		logger:   logger.With(zap.String("component", "llm_prober")),
	}
}

// Start 启动后台探活循环。启动即做一轮全量探活。
func (p *Prober) Start() {
	ctx, cancel := context.WithCancel(context.Background())
	p.cancel = cancel
	p.done = make(chan struct{})

	go func() {
		defer close(p.done)
		p.ProbeAll(ctx)

		ticker := time.NewTicker(p.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				p.ProbeAll(ctx)
			}
		}
	}()
}

// Stop 停止探活循环并等待退出。
func (p *Prober) Stop() {
	p.once.Do(func() {
		if p.cancel != nil {
			p.cancel()
			<-p.done
		}
	})
}

// ProbeAll 并发探活全部供应商。
func (p *Prober) ProbeAll(ctx context.Context) {
	profiles := p.registry.List()
	var wg sync.WaitGroup
	for _, profile := range profiles {
		wg.Add(1)
		go func(profile *Profile) {
			defer wg.Done()
			p.probeOne(ctx, profile)
		}(profile)
	}
	wg.Wait()
}

func (p *Prober) probeOne(ctx context.Context, profile *Profile) {
	probeCtx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	before := profile.Status()
	err := profile.provider.HealthCheck(probeCtx)
	after := profile.RecordProbe(err)
	p.registry.publishState(profile, after)

	if after != before {
		p.logger.Info("provider state changed",
			zap.String("provider", profile.Name()),
			zap.String("from", before.String()),
			zap.String("to", after.String()),
			zap.String("code", string(types.GetErrorCode(err))))
	}
}
