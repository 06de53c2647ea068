package browser

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/chromedp/chromedp"

	"retailradar/internal/config"
)

// ChromeSession drives Chrome over the DevTools protocol. With a configured
// debugger URL it attaches to an already-running browser (the operator's
// logged-in session); otherwise it launches its own instance.
type ChromeSession struct {
	cfg         config.BrowserConfig
	allocCtx    context.Context
	allocCancel context.CancelFunc
}

func NewChromeSession(cfg config.BrowserConfig) *ChromeSession {
	var allocCtx context.Context
	var cancel context.CancelFunc
	if cfg.DebuggerURL != "" {
		allocCtx, cancel = chromedp.NewRemoteAllocator(context.Background(), cfg.DebuggerURL)
	} else {
		opts := append(chromedp.DefaultExecAllocatorOptions[:],
			chromedp.Flag("headless", cfg.Headless),
			chromedp.Flag("disable-gpu", true),
		)
		allocCtx, cancel = chromedp.NewExecAllocator(context.Background(), opts...)
	}
	return &ChromeSession{cfg: cfg, allocCtx: allocCtx, allocCancel: cancel}
}

func (s *ChromeSession) OpenPage(ctx context.Context, url string) (Tab, error) {
	if s == nil || s.allocCtx == nil {
		return nil, errors.New("browser session not initialized")
	}
	tabCtx, cancel := chromedp.NewContext(s.allocCtx)
	tab := &chromeTab{ctx: tabCtx, cancel: cancel, settle: s.cfg.SettleDelay}
	if err := tab.Navigate(ctx, url); err != nil {
		tab.Close()
		return nil, err
	}
	return tab, nil
}

func (s *ChromeSession) Close() {
	if s == nil || s.allocCancel == nil {
		return
	}
	s.allocCancel()
}

type chromeTab struct {
	ctx    context.Context
	cancel context.CancelFunc
	settle time.Duration
}

func (t *chromeTab) Navigate(ctx context.Context, url string) error {
	actions := []chromedp.Action{chromedp.Navigate(url)}
	if t.settle > 0 {
		actions = append(actions, chromedp.Sleep(t.settle))
	}
	if err := t.run(ctx, actions...); err != nil {
		return fmt.Errorf("navigate %s: %w", url, err)
	}
	return nil
}

func (t *chromeTab) WaitForSelector(ctx context.Context, css string, timeout time.Duration) error {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	waitCtx, cancel := context.WithTimeout(t.ctx, timeout)
	defer cancel()
	err := chromedp.Run(joinDone(waitCtx, ctx), chromedp.WaitReady(css, chromedp.ByQuery))
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return fmt.Errorf("%w: selector %q after %s", ErrNavigationTimeout, css, timeout)
		}
		return err
	}
	return nil
}

func (t *chromeTab) PageSource(ctx context.Context) (string, error) {
	var html string
	if err := t.run(ctx, chromedp.OuterHTML("html", &html, chromedp.ByQuery)); err != nil {
		return "", err
	}
	return html, nil
}

func (t *chromeTab) Reload(ctx context.Context) error {
	actions := []chromedp.Action{chromedp.Reload()}
	if t.settle > 0 {
		actions = append(actions, chromedp.Sleep(t.settle))
	}
	return t.run(ctx, actions...)
}

func (t *chromeTab) Close() {
	if t == nil || t.cancel == nil {
		return
	}
	t.cancel()
}

func (t *chromeTab) run(ctx context.Context, actions ...chromedp.Action) error {
	return chromedp.Run(joinDone(t.ctx, ctx), actions...)
}

// joinDone returns the tab context, cancelled early when the caller's
// context ends. chromedp actions must run on the tab's own context chain.
func joinDone(tabCtx, callerCtx context.Context) context.Context {
	if callerCtx == nil || callerCtx == context.Background() {
		return tabCtx
	}
	joined, cancel := context.WithCancel(tabCtx)
	go func() {
		select {
		case <-callerCtx.Done():
			cancel()
		case <-joined.Done():
		}
	}()
	return joined
}
