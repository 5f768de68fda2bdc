package browser

import (
	"context"
	"fmt"
	"mime"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	cdpbrowser "github.com/chromedp/cdproto/browser"
	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/chromedp"
	"github.com/teranos/gdscraper/errors"
	"github.com/teranos/gdscraper/logger"
	"github.com/teranos/gdscraper/scrape"
)

// Authentication failures. Both map to AUTHENTICATION_FAILED on the wire;
// they stay distinct here for logs.
var (
	ErrUserNotFound      = errors.New("USER_NOT_FOUND")
	ErrPasswordIncorrect = errors.New("PASSWORD_INCORRECT")
)

const (
	passwordStep = "password"
	notFoundStep = "not-found"
)

// Resolves once the email step settled: either the password input is
// visible or the page offers account creation.
const emailOutcomeJS = `(pw, notFoundText) => {
	const el = document.querySelector(pw);
	if (el && el.offsetParent !== null) return "password";
	if (document.body && document.body.innerText.includes(notFoundText)) return "not-found";
	return false;
}`

// Resolves once the password input is gone, i.e. the login navigated away
const passwordAcceptedJS = `(pw) => {
	const el = document.querySelector(pw);
	return !el || el.offsetParent === null;
}`

// Authenticate logs in with auth on a fresh tab
func (l *Launcher) Authenticate(ctx context.Context, bh scrape.BrowserHandle, auth scrape.Auth) error {
	h, err := handleFrom(bh)
	if err != nil {
		return err
	}
	log := logger.LoggerFromContext(ctx, l.logger)
	sel := l.selectors.Login

	tab, closeTab, err := l.tab(ctx, h)
	if err != nil {
		return err
	}
	defer closeTab()

	if err := l.run(tab,
		chromedp.Navigate(l.pageURL(sel.Path)),
		chromedp.WaitVisible(sel.EmailInput, chromedp.ByQuery),
		chromedp.SendKeys(sel.EmailInput, auth.Email, chromedp.ByQuery),
		chromedp.Click(sel.EmailSubmit, chromedp.ByQuery),
	); err != nil {
		return errors.Wrap(err, "submit email")
	}

	var outcome string
	if err := l.run(tab, chromedp.PollFunction(emailOutcomeJS, &outcome,
		chromedp.WithPollingArgs(sel.PasswordInput, sel.UserNotFoundText),
		chromedp.WithPollingTimeout(l.stepTimeout()),
	)); err != nil {
		return errors.Wrap(err, "wait for password form")
	}
	if outcome == notFoundStep {
		log.Infow("Login rejected", logger.FieldReason, ErrUserNotFound.Error())
		return ErrUserNotFound
	}

	if err := l.run(tab,
		chromedp.SendKeys(sel.PasswordInput, auth.Password, chromedp.ByQuery),
		chromedp.Click(sel.PasswordSubmit, chromedp.ByQuery),
	); err != nil {
		return errors.Wrap(err, "submit password")
	}

	var accepted bool
	err = l.run(tab, chromedp.PollFunction(passwordAcceptedJS, &accepted,
		chromedp.WithPollingArgs(sel.PasswordInput),
		chromedp.WithPollingTimeout(l.stepTimeout()),
	))
	if errors.Is(err, chromedp.ErrPollingTimeout) {
		log.Infow("Login rejected", logger.FieldReason, ErrPasswordIncorrect.Error())
		return ErrPasswordIncorrect
	}
	if err != nil {
		return errors.Wrap(err, "wait for login")
	}
	return nil
}

// RetrieveUserData reads the five profile fields out of the "Edit" modals.
// Every field must be non-empty.
func (l *Launcher) RetrieveUserData(ctx context.Context, bh scrape.BrowserHandle) (scrape.UserData, error) {
	h, err := handleFrom(bh)
	if err != nil {
		return scrape.UserData{}, err
	}
	sel := l.selectors.Profile

	tab, closeTab, err := l.tab(ctx, h)
	if err != nil {
		return scrape.UserData{}, err
	}
	defer closeTab()

	if err := l.run(tab,
		chromedp.Navigate(l.pageURL(sel.Path)),
		chromedp.WaitVisible(sel.Ready, chromedp.ByQuery),
	); err != nil {
		return scrape.UserData{}, errors.Wrap(err, "open profile")
	}

	fields := make(map[string]string, len(userDataFields))
	for _, section := range sel.Sections {
		values := make(map[string]*string, len(section.Fields))
		actions := []chromedp.Action{chromedp.Click(section.Open, chromedp.ByQuery)}
		for field, input := range section.Fields {
			v := new(string)
			values[field] = v
			actions = append(actions,
				chromedp.WaitVisible(input, chromedp.ByQuery),
				chromedp.Value(input, v, chromedp.ByQuery),
			)
		}
		actions = append(actions, chromedp.Click(sel.ModalClose, chromedp.ByQuery))

		if err := l.run(tab, actions...); err != nil {
			return scrape.UserData{}, errors.Wrapf(err, "read profile section %s", section.Open)
		}
		for field, v := range values {
			fields[field] = *v
		}
	}

	return userDataFromFields(fields)
}

func userDataFromFields(fields map[string]string) (scrape.UserData, error) {
	for _, f := range userDataFields {
		if strings.TrimSpace(fields[f]) == "" {
			return scrape.UserData{}, errors.Newf("profile field %s is empty", f)
		}
	}
	return scrape.UserData{
		Firstname:       fields[FieldFirstname],
		Lastname:        fields[FieldLastname],
		JobTitle:        fields[FieldJobTitle],
		CurrentCompany:  fields[FieldCurrentCompany],
		CurrentLocation: fields[FieldCurrentLocation],
	}, nil
}

type download struct {
	guid     string
	filename string
	err      error
}

// downloads tracks browser download events for one tab
type downloads struct {
	mu        sync.Mutex
	suggested map[string]string
	done      chan download
}

func newDownloads() *downloads {
	return &downloads{suggested: make(map[string]string), done: make(chan download, 16)}
}

func (d *downloads) handle(ev interface{}) {
	switch e := ev.(type) {
	case *cdpbrowser.EventDownloadWillBegin:
		d.mu.Lock()
		d.suggested[e.GUID] = e.SuggestedFilename
		d.mu.Unlock()
	case *cdpbrowser.EventDownloadProgress:
		var result download
		switch e.State {
		case cdpbrowser.DownloadProgressStateCompleted:
			result = download{guid: e.GUID}
		case cdpbrowser.DownloadProgressStateCanceled:
			result = download{guid: e.GUID, err: errors.Newf("download %s canceled", e.GUID)}
		default:
			return
		}
		d.mu.Lock()
		result.filename = d.suggested[e.GUID]
		d.mu.Unlock()
		select {
		case d.done <- result:
		default:
		}
	}
}

// RetrieveResumes clicks each resume link and opens the downloaded files.
// The returned bodies read from the handle's download directory, which
// lives until Release.
func (l *Launcher) RetrieveResumes(ctx context.Context, bh scrape.BrowserHandle) ([]scrape.Resume, error) {
	h, err := handleFrom(bh)
	if err != nil {
		return nil, err
	}
	log := logger.LoggerFromContext(ctx, l.logger)
	sel := l.selectors.Resumes

	tab, closeTab, err := l.tab(ctx, h)
	if err != nil {
		return nil, err
	}
	defer closeTab()

	tracker := newDownloads()
	chromedp.ListenTarget(tab, tracker.handle)

	var links []*cdp.Node
	if err := l.run(tab,
		cdpbrowser.SetDownloadBehavior(cdpbrowser.SetDownloadBehaviorBehaviorAllowAndName).
			WithDownloadPath(h.downloadDir).
			WithEventsEnabled(true),
		chromedp.Navigate(l.pageURL(sel.Path)),
		chromedp.WaitVisible(sel.Container, chromedp.ByQuery),
		chromedp.Nodes(sel.Links, &links, chromedp.ByQueryAll),
	); err != nil {
		return nil, errors.Wrap(err, "open resumes page")
	}

	resumes := make([]scrape.Resume, 0, len(links))
	for i, link := range links {
		r, err := l.downloadOne(tab, h, tracker, link)
		if err != nil {
			scrape.CloseResumes(resumes)
			return nil, errors.Wrapf(err, "download resume %d of %d", i+1, len(links))
		}
		resumes = append(resumes, r)
	}

	log.Debugw("Resumes downloaded", logger.FieldCount, len(resumes))
	return resumes, nil
}

func (l *Launcher) downloadOne(tab context.Context, h *Handle, tracker *downloads, link *cdp.Node) (scrape.Resume, error) {
	if err := l.run(tab, chromedp.MouseClickNode(link)); err != nil {
		return scrape.Resume{}, errors.Wrap(err, "click link")
	}

	timer := time.NewTimer(l.stepTimeout())
	defer timer.Stop()

	var d download
	select {
	case d = <-tracker.done:
	case <-timer.C:
		return scrape.Resume{}, errors.Wrap(errors.ErrTimeout, "wait for download")
	case <-tab.Done():
		return scrape.Resume{}, tab.Err()
	}
	if d.err != nil {
		return scrape.Resume{}, d.err
	}

	// AllowAndName stores each download under its GUID
	path := filepath.Join(h.downloadDir, d.guid)
	f, err := os.Open(path)
	if err != nil {
		return scrape.Resume{}, errors.Wrapf(err, "open downloaded %s", d.filename)
	}
	name := d.filename
	if name == "" {
		name = fmt.Sprintf("resume-%s", d.guid)
	}
	return scrape.Resume{Name: name, ContentType: contentTypeFor(name), Body: f}, nil
}

func contentTypeFor(name string) string {
	if ct := mime.TypeByExtension(strings.ToLower(filepath.Ext(name))); ct != "" {
		return ct
	}
	return "application/octet-stream"
}

// Steps composes the browser steps with a storage step
func (l *Launcher) Steps(store func(ctx context.Context, resumes []scrape.Resume) ([]string, error)) scrape.StepFuncs {
	return scrape.StepFuncs{
		InitBrowserFunc:      l.InitBrowser,
		AuthenticateFunc:     l.Authenticate,
		RetrieveUserDataFunc: l.RetrieveUserData,
		RetrieveResumesFunc:  l.RetrieveResumes,
		StoreResumesFunc:     store,
	}
}
