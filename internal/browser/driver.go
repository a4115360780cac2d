package browser

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"github.com/krivcovaanna86-netizen/vk-viewer-pro-sub000/api/schemas"
	"github.com/krivcovaanna86-netizen/vk-viewer-pro-sub000/internal/browser/pacing"
)

// Driver implements schemas.PageDriver over a chromedp tab context.
type Driver struct {
	tabCtx     context.Context
	logger     *zap.Logger
	navTimeout time.Duration
	pace       *pacing.Profile
}

var _ schemas.PageDriver = (*Driver)(nil)

func newDriver(tabCtx context.Context, logger *zap.Logger, navTimeout time.Duration, pace *pacing.Profile) *Driver {
	if navTimeout <= 0 {
		navTimeout = 45 * time.Second
	}
	return &Driver{
		tabCtx:     tabCtx,
		logger:     logger.Named("driver"),
		navTimeout: navTimeout,
		pace:       pace,
	}
}

// run executes chromedp actions on the tab context, bounded by timeout and
// aborted when the caller's context is cancelled. chromedp requires its own
// context chain, so the caller context is bridged via AfterFunc.
func (d *Driver) run(ctx context.Context, timeout time.Duration, actions ...chromedp.Action) error {
	runCtx, cancel := context.WithTimeout(d.tabCtx, timeout)
	defer cancel()
	stop := context.AfterFunc(ctx, cancel)
	defer stop()

	err := chromedp.Run(runCtx, actions...)
	if err != nil && ctx.Err() != nil {
		return ctx.Err()
	}
	return err
}

// netErrorFragments are Chromium error codes that indicate the network
// path, not the page, is at fault.
var netErrorFragments = []string{
	"ERR_PROXY_CONNECTION_FAILED",
	"ERR_TUNNEL_CONNECTION_FAILED",
	"ERR_SOCKS_CONNECTION_FAILED",
	"ERR_CONNECTION_RESET",
	"ERR_CONNECTION_REFUSED",
	"ERR_CONNECTION_TIMED_OUT",
	"ERR_NAME_NOT_RESOLVED",
	"ERR_INTERNET_DISCONNECTED",
	"ERR_TIMED_OUT",
	"ERR_EMPTY_RESPONSE",
}

// classifyNavError maps navigation failures onto the error taxonomy so the
// executor can tell a dead proxy from a broken page.
func classifyNavError(err error) error {
	if err == nil {
		return nil
	}
	msg := err.Error()
	for _, fragment := range netErrorFragments {
		if strings.Contains(msg, fragment) {
			return fmt.Errorf("%w: %v", schemas.ErrProxyDead, err)
		}
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return schemas.InfraError(fmt.Errorf("navigation timed out: %w", err))
	}
	return err
}

// Navigate loads url and waits for the document body to be ready.
func (d *Driver) Navigate(ctx context.Context, url string) error {
	d.logger.Debug("Navigating", zap.String("url", url))
	err := d.run(ctx, d.navTimeout,
		chromedp.Navigate(url),
		chromedp.WaitReady("body", chromedp.ByQuery),
	)
	return classifyNavError(err)
}

// CurrentURL returns the page's current location.
func (d *Driver) CurrentURL(ctx context.Context) (string, error) {
	var loc string
	if err := d.run(ctx, 10*time.Second, chromedp.Location(&loc)); err != nil {
		return "", err
	}
	return loc, nil
}

// FindVisible reports whether a selector matches an element that occupies
// layout space. Idempotent: checking twice on an unchanged page returns
// the same answer.
func (d *Driver) FindVisible(ctx context.Context, selector string) (bool, error) {
	script := fmt.Sprintf(`(function() {
		const el = document.querySelector(%q);
		if (!el) return false;
		const r = el.getBoundingClientRect();
		return r.width > 0 && r.height > 0;
	})()`, selector)

	var visible bool
	if err := d.run(ctx, 10*time.Second, chromedp.Evaluate(script, &visible)); err != nil {
		return false, err
	}
	return visible, nil
}

// Click clicks the first visible match of selector.
func (d *Driver) Click(ctx context.Context, selector string) error {
	return d.run(ctx, 15*time.Second,
		chromedp.Click(selector, chromedp.ByQuery, chromedp.NodeVisible),
	)
}

// Type focuses selector and types text one character at a time with
// human-like keystroke pacing.
func (d *Driver) Type(ctx context.Context, selector, text string) error {
	if err := d.run(ctx, 15*time.Second, chromedp.Click(selector, chromedp.ByQuery, chromedp.NodeVisible)); err != nil {
		return err
	}

	for _, r := range text {
		if err := d.run(ctx, 10*time.Second, chromedp.SendKeys(selector, string(r), chromedp.ByQuery)); err != nil {
			return err
		}
		if d.pace != nil {
			if err := d.pace.SimulateTyping(ctx, 1); err != nil {
				return err
			}
		}
	}
	return nil
}

// Evaluate runs script in the page and decodes the result into out.
func (d *Driver) Evaluate(ctx context.Context, script string, out any) error {
	return d.run(ctx, 20*time.Second, chromedp.Evaluate(script, out))
}

// ReadCookies captures the browser's cookie jar.
func (d *Driver) ReadCookies(ctx context.Context) ([]schemas.Cookie, error) {
	var cookies []schemas.Cookie
	err := d.run(ctx, 10*time.Second, chromedp.ActionFunc(func(ctx context.Context) error {
		raw, err := network.GetCookies().Do(ctx)
		if err != nil {
			return err
		}
		cookies = make([]schemas.Cookie, 0, len(raw))
		for _, c := range raw {
			cookie := schemas.Cookie{
				Name:     c.Name,
				Value:    c.Value,
				Domain:   c.Domain,
				Path:     c.Path,
				Secure:   c.Secure,
				HTTPOnly: c.HTTPOnly,
			}
			if c.Expires > 0 {
				cookie.Expires = time.Unix(int64(c.Expires), 0).UTC()
			}
			cookies = append(cookies, cookie)
		}
		return nil
	}))
	if err != nil {
		return nil, err
	}
	return cookies, nil
}

// SetCookies restores a persisted cookie set into the browser.
func (d *Driver) SetCookies(ctx context.Context, cookies []schemas.Cookie) error {
	return d.run(ctx, 10*time.Second, chromedp.ActionFunc(func(ctx context.Context) error {
		params := make([]*network.CookieParam, 0, len(cookies))
		for _, c := range cookies {
			p := &network.CookieParam{
				Name:     c.Name,
				Value:    c.Value,
				Domain:   c.Domain,
				Path:     c.Path,
				Secure:   c.Secure,
				HTTPOnly: c.HTTPOnly,
			}
			if !c.Expires.IsZero() {
				expires := cdp.TimeSinceEpoch(c.Expires)
				p.Expires = &expires
			}
			params = append(params, p)
		}
		return network.SetCookies(params).Do(ctx)
	}))
}

// SnapshotStorage captures local and session storage for the current origin.
func (d *Driver) SnapshotStorage(ctx context.Context) (schemas.StorageSnapshot, error) {
	const script = `(function() {
		const dump = (s) => {
			const out = {};
			for (let i = 0; i < s.length; i++) {
				const k = s.key(i);
				out[k] = s.getItem(k);
			}
			return out;
		};
		return { local: dump(localStorage), session: dump(sessionStorage) };
	})()`

	var snapshot schemas.StorageSnapshot
	if err := d.run(ctx, 10*time.Second, chromedp.Evaluate(script, &snapshot)); err != nil {
		return schemas.StorageSnapshot{}, err
	}
	return snapshot, nil
}

// RestoreStorage writes a snapshot back into the page's storage. The caller
// must already be on the right origin.
func (d *Driver) RestoreStorage(ctx context.Context, snapshot schemas.StorageSnapshot) error {
	apply := func(store string, entries map[string]string) error {
		for k, v := range entries {
			script := fmt.Sprintf(`%s.setItem(%q, %q)`, store, k, v)
			if err := d.run(ctx, 10*time.Second, chromedp.Evaluate(script, nil)); err != nil {
				return err
			}
		}
		return nil
	}

	if err := apply("localStorage", snapshot.Local); err != nil {
		return err
	}
	return apply("sessionStorage", snapshot.Session)
}
