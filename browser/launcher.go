// Package browser drives headless Chrome through chromedp to log in to
// Glassdoor, read the profile and download resumes.
package browser

import (
	"context"
	"net/url"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/chromedp"
	"github.com/kballard/go-shellquote"
	"github.com/teranos/gdscraper/am"
	"github.com/teranos/gdscraper/errors"
	"github.com/teranos/gdscraper/logger"
	"github.com/teranos/gdscraper/scrape"
	"go.uber.org/zap"
)

const defaultStepTimeout = 10 * time.Second

// ErrWrongHandle is returned when a step receives a handle this package did not create
var ErrWrongHandle = errors.New("browser handle not created by this launcher")

// Launcher starts one Chrome per job and runs the page steps against it
type Launcher struct {
	cfg       am.BrowserConfig
	selectors *Selectors
	baseURL   *url.URL
	allocOpts []chromedp.ExecAllocatorOption
	logger    *zap.SugaredLogger
}

// NewLauncher validates cfg and prepares the allocator options.
// A nil selectors uses the embedded defaults.
func NewLauncher(cfg am.BrowserConfig, selectors *Selectors, log *zap.SugaredLogger) (*Launcher, error) {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	if selectors == nil {
		s, err := DefaultSelectors()
		if err != nil {
			return nil, err
		}
		selectors = s
	}
	if err := selectors.Validate(); err != nil {
		return nil, err
	}

	base, err := url.Parse(cfg.BaseURL)
	if err != nil || base.Scheme == "" || base.Host == "" {
		return nil, errors.NewInvalidRequestError("browser base_url %q is not an absolute URL", cfg.BaseURL)
	}

	opts, err := AllocatorOptions(cfg)
	if err != nil {
		return nil, err
	}

	return &Launcher{
		cfg:       cfg,
		selectors: selectors,
		baseURL:   base,
		allocOpts: opts,
		logger:    log.Named("browser"),
	}, nil
}

// AllocatorOptions turns cfg into chromedp exec allocator options.
// ExtraFlags is split like a shell would: "--name=value" becomes a valued flag,
// a bare "--name" a boolean one.
func AllocatorOptions(cfg am.BrowserConfig) ([]chromedp.ExecAllocatorOption, error) {
	opts := append([]chromedp.ExecAllocatorOption{}, chromedp.DefaultExecAllocatorOptions[:]...)
	opts = append(opts,
		chromedp.Flag("headless", cfg.Headless),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("no-sandbox", true),
		chromedp.Flag("disable-dev-shm-usage", true),
	)
	if cfg.Locale != "" {
		opts = append(opts, chromedp.Flag("lang", cfg.Locale))
	}
	if cfg.UserAgent != "" {
		opts = append(opts, chromedp.UserAgent(cfg.UserAgent))
	}
	if cfg.ExecPath != "" {
		opts = append(opts, chromedp.ExecPath(cfg.ExecPath))
	}

	flags, err := ParseFlags(cfg.ExtraFlags)
	if err != nil {
		return nil, err
	}
	for name, value := range flags {
		opts = append(opts, chromedp.Flag(name, value))
	}
	return opts, nil
}

// ParseFlags splits a shell-quoted Chrome flag string into name/value pairs
func ParseFlags(s string) (map[string]interface{}, error) {
	words, err := shellquote.Split(s)
	if err != nil {
		return nil, errors.NewInvalidRequestError("browser extra_flags: %v", err)
	}
	flags := make(map[string]interface{}, len(words))
	for _, w := range words {
		if !strings.HasPrefix(w, "--") || len(w) == 2 {
			return nil, errors.NewInvalidRequestError("browser extra_flags: %q is not a --flag", w)
		}
		name, value, hasValue := strings.Cut(strings.TrimPrefix(w, "--"), "=")
		if hasValue {
			flags[name] = value
		} else {
			flags[name] = true
		}
	}
	return flags, nil
}

// Handle is one job's Chrome process and download directory
type Handle struct {
	ctx         context.Context
	cancel      context.CancelFunc
	allocCancel context.CancelFunc
	downloadDir string

	once sync.Once
	err  error
}

// DownloadDir is where this browser's downloads land
func (h *Handle) DownloadDir() string {
	return h.downloadDir
}

// Release closes Chrome and removes the download directory. Safe to call more than once.
func (h *Handle) Release(ctx context.Context) error {
	h.once.Do(func() {
		var errs []error
		if h.ctx != nil {
			if err := chromedp.Cancel(h.ctx); err != nil && !errors.Is(err, context.Canceled) {
				errs = append(errs, errors.Wrap(err, "close browser"))
			}
		}
		if h.cancel != nil {
			h.cancel()
		}
		if h.allocCancel != nil {
			h.allocCancel()
		}
		if h.downloadDir != "" {
			if err := os.RemoveAll(h.downloadDir); err != nil {
				errs = append(errs, errors.Wrapf(err, "remove %s", h.downloadDir))
			}
		}
		if len(errs) > 0 {
			h.err = errs[0]
			for _, e := range errs[1:] {
				h.err = errors.WithSecondaryError(h.err, e)
			}
		}
	})
	return h.err
}

// InitBrowser starts Chrome. The browser outlives ctx; it is stopped by Release.
// Launch itself is bounded by ctx and the step timeout.
func (l *Launcher) InitBrowser(ctx context.Context) (scrape.BrowserHandle, error) {
	log := logger.LoggerFromContext(ctx, l.logger)

	dir, err := os.MkdirTemp(l.cfg.DownloadDir, "gdscraper-downloads-")
	if err != nil {
		return nil, errors.Wrap(err, "create download directory")
	}

	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), l.allocOpts...)
	browserCtx, cancel := chromedp.NewContext(allocCtx)
	h := &Handle{ctx: browserCtx, cancel: cancel, allocCancel: allocCancel, downloadDir: dir}

	// The first Run on browserCtx starts Chrome and ties it to browserCtx,
	// so it must not run on a derived deadline context.
	timer := time.AfterFunc(l.stepTimeout(), cancel)
	stop := context.AfterFunc(ctx, cancel)
	err = chromedp.Run(browserCtx)
	timer.Stop()
	stop()
	if err == nil {
		err = browserCtx.Err()
	}
	if err != nil {
		// Returned with the error so the runner can still release it
		return h, errors.Wrap(err, "launch chrome")
	}

	log.Debugw("Browser started", logger.FieldPath, dir)
	return h, nil
}

func (l *Launcher) stepTimeout() time.Duration {
	if d := l.cfg.StepTimeout(); d > 0 {
		return d
	}
	return defaultStepTimeout
}

func (l *Launcher) pageURL(path string) string {
	ref, err := url.Parse(path)
	if err != nil {
		return l.baseURL.String() + path
	}
	return l.baseURL.ResolveReference(ref).String()
}

func handleFrom(h scrape.BrowserHandle) (*Handle, error) {
	bh, ok := h.(*Handle)
	if !ok || bh == nil || bh.ctx == nil {
		return nil, ErrWrongHandle
	}
	return bh, nil
}

// tab opens a new tab with the configured locale and timezone.
// The tab closes when ctx is done or closeTab is called.
func (l *Launcher) tab(ctx context.Context, h *Handle) (tabCtx context.Context, closeTab func(), err error) {
	tabCtx, cancel := chromedp.NewContext(h.ctx)
	stop := context.AfterFunc(ctx, cancel)
	closeTab = func() {
		stop()
		cancel()
	}

	var actions []chromedp.Action
	if l.cfg.Locale != "" {
		actions = append(actions, emulation.SetLocaleOverride().WithLocale(l.cfg.Locale))
	}
	if l.cfg.Timezone != "" {
		actions = append(actions, emulation.SetTimezoneOverride(l.cfg.Timezone))
	}

	// Creates the target; like the browser, it must not run on a deadline context
	timer := time.AfterFunc(l.stepTimeout(), cancel)
	err = chromedp.Run(tabCtx, actions...)
	timer.Stop()
	if err != nil {
		closeTab()
		return nil, nil, errors.Wrap(err, "open tab")
	}
	return tabCtx, closeTab, nil
}

// run executes actions on tabCtx bounded by the step timeout
func (l *Launcher) run(tabCtx context.Context, actions ...chromedp.Action) error {
	ctx, cancel := context.WithTimeout(tabCtx, l.stepTimeout())
	defer cancel()
	return chromedp.Run(ctx, actions...)
}
