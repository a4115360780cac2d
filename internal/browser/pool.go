// Package browser manages the lifecycle of isolated headless-browser
// contexts and exposes the capability surface the orchestrator drives.
package browser

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/chromedp/cdproto/fetch"
	"github.com/chromedp/chromedp"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/krivcovaanna86-netizen/vk-viewer-pro-sub000/api/schemas"
	"github.com/krivcovaanna86-netizen/vk-viewer-pro-sub000/internal/browser/pacing"
	"github.com/krivcovaanna86-netizen/vk-viewer-pro-sub000/internal/config"
)

// Pool implements schemas.BrowserPool over chromedp. Every acquired handle
// owns its own browser process: a proxy is an allocator-level setting, so
// contexts sharing a process would leak network paths across accounts.
type Pool struct {
	logger     *zap.Logger
	cfg        config.BrowserConfig
	navTimeout time.Duration
	pace       *pacing.Profile

	mu      sync.Mutex
	handles map[string]*Handle
}

var _ schemas.BrowserPool = (*Pool)(nil)

// NewPool creates the context pool.
func NewPool(logger *zap.Logger, cfg config.BrowserConfig, navTimeout time.Duration, pace *pacing.Profile) *Pool {
	return &Pool{
		logger:     logger.Named("browser_pool"),
		cfg:        cfg,
		navTimeout: navTimeout,
		pace:       pace,
		handles:    make(map[string]*Handle),
	}
}

// Handle wraps one exclusive browser context and its process resource.
type Handle struct {
	id          string
	driver      *Driver
	tabCancel   context.CancelFunc
	allocCancel context.CancelFunc
	released    sync.Once
}

func (h *Handle) ID() string               { return h.id }
func (h *Handle) Page() schemas.PageDriver { return h.driver }

// allocatorOptions configures the flags for the browser executable.
func (p *Pool) allocatorOptions(proxy *schemas.Proxy) []chromedp.ExecAllocatorOption {
	opts := append([]chromedp.ExecAllocatorOption{}, chromedp.DefaultExecAllocatorOptions[:]...)

	if p.cfg.Headless {
		opts = append(opts, chromedp.Headless)
	}

	opts = append(opts,
		chromedp.Flag("enable-automation", false),
		chromedp.Flag("disable-blink-features", "AutomationControlled"),
		chromedp.Flag("disable-background-networking", true),
		chromedp.Flag("disable-sync", true),
		chromedp.Flag("metrics-recording-only", true),
		chromedp.Flag("disable-default-apps", true),
		chromedp.Flag("no-first-run", true),
		chromedp.Flag("disable-hang-monitor", true),
		chromedp.Flag("disable-prompt-on-repost", true),
		chromedp.Flag("disable-extensions", true),
		chromedp.Flag("disable-gpu", p.cfg.Headless),
		chromedp.Flag("ignore-certificate-errors", p.cfg.IgnoreTLSErrors),
		chromedp.WindowSize(p.cfg.WindowWidth, p.cfg.WindowHeight),
	)

	if p.cfg.UserAgent != "" {
		opts = append(opts, chromedp.UserAgent(p.cfg.UserAgent))
	}
	for _, arg := range p.cfg.Args {
		opts = append(opts, chromedp.Flag(arg, true))
	}

	if proxy != nil {
		opts = append(opts, chromedp.ProxyServer(proxy.URL()))
	}

	return opts
}

// Acquire launches an isolated browser context bound to the given proxy.
// A failure to start or connect to the browser process is reported as the
// retryable schemas.ErrLaunch, never as an authentication error.
func (p *Pool) Acquire(ctx context.Context, proxy *schemas.Proxy) (schemas.ContextHandle, error) {
	opts := p.allocatorOptions(proxy)

	// The allocator lives on a background context: the handle must outlive
	// the acquiring operation's context so Release stays in control of
	// teardown ordering.
	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), opts...)
	tabCtx, tabCancel := chromedp.NewContext(allocCtx,
		chromedp.WithLogf(p.logger.Sugar().Debugf),
		chromedp.WithErrorf(p.logger.Sugar().Errorf),
	)

	// First Run starts the process; bound it so a wedged spawn cannot hang
	// the whole operation.
	startCtx, startCancel := context.WithTimeout(tabCtx, 30*time.Second)
	defer startCancel()
	stop := context.AfterFunc(ctx, startCancel)
	defer stop()

	if err := chromedp.Run(startCtx, chromedp.Navigate("about:blank")); err != nil {
		tabCancel()
		allocCancel()
		return nil, fmt.Errorf("%w: %v", schemas.ErrLaunch, err)
	}

	if proxy != nil && proxy.Username != "" {
		if err := p.enableProxyAuth(tabCtx, proxy); err != nil {
			tabCancel()
			allocCancel()
			return nil, fmt.Errorf("%w: proxy auth setup: %v", schemas.ErrLaunch, err)
		}
	}

	h := &Handle{
		id:          uuid.New().String(),
		driver:      newDriver(tabCtx, p.logger, p.navTimeout, p.pace),
		tabCancel:   tabCancel,
		allocCancel: allocCancel,
	}

	p.mu.Lock()
	p.handles[h.id] = h
	p.mu.Unlock()

	p.logger.Debug("Browser context acquired",
		zap.String("handle_id", h.id),
		zap.Bool("proxied", proxy != nil),
	)
	return h, nil
}

// enableProxyAuth answers the proxy's auth challenge with the configured
// credentials via the fetch domain.
func (p *Pool) enableProxyAuth(tabCtx context.Context, proxy *schemas.Proxy) error {
	username, password := proxy.Username, proxy.Password

	chromedp.ListenTarget(tabCtx, func(ev interface{}) {
		switch e := ev.(type) {
		case *fetch.EventAuthRequired:
			go func() {
				err := chromedp.Run(tabCtx, fetch.ContinueWithAuth(e.RequestID, &fetch.AuthChallengeResponse{
					Response: fetch.AuthChallengeResponseResponseProvideCredentials,
					Username: username,
					Password: password,
				}))
				if err != nil {
					p.logger.Debug("Proxy auth continuation failed", zap.Error(err))
				}
			}()
		case *fetch.EventRequestPaused:
			go func() {
				_ = chromedp.Run(tabCtx, fetch.ContinueRequest(e.RequestID))
			}()
		}
	})

	return chromedp.Run(tabCtx, fetch.Enable().WithHandleAuthRequests(true))
}

// Release tears down the handle's page and process, best-effort for both
// even if one panics, and drops it from the liveness table. Releasing the
// same handle twice is safe.
func (p *Pool) Release(handle schemas.ContextHandle) {
	if handle == nil {
		return
	}
	h, ok := handle.(*Handle)
	if !ok {
		p.logger.Warn("Release called with a foreign handle type")
		return
	}

	h.released.Do(func() {
		p.mu.Lock()
		delete(p.handles, h.id)
		p.mu.Unlock()

		func() {
			defer func() {
				if r := recover(); r != nil {
					p.logger.Warn("Panic during tab teardown", zap.Any("panic", r))
				}
			}()
			h.tabCancel()
		}()
		func() {
			defer func() {
				if r := recover(); r != nil {
					p.logger.Warn("Panic during allocator teardown", zap.Any("panic", r))
				}
			}()
			h.allocCancel()
		}()

		p.logger.Debug("Browser context released", zap.String("handle_id", h.id))
	})
}

// Cleanup force-releases all outstanding handles. Used at shutdown.
func (p *Pool) Cleanup() {
	p.mu.Lock()
	outstanding := make([]*Handle, 0, len(p.handles))
	for _, h := range p.handles {
		outstanding = append(outstanding, h)
	}
	p.mu.Unlock()

	if len(outstanding) > 0 {
		p.logger.Info("Force-releasing outstanding browser contexts", zap.Int("count", len(outstanding)))
	}
	for _, h := range outstanding {
		p.Release(h)
	}
}

// Outstanding reports how many handles are currently live.
func (p *Pool) Outstanding() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.handles)
}
