package scrape

import (
	"context"
	"fmt"
	"sync"

	"github.com/teranos/gdscraper/errors"
)

// BrowserHandle is the browser session owned by one job.
// The machine never releases it; the runner does, exactly once.
type BrowserHandle interface {
	Release(ctx context.Context) error
}

type onceHandle struct {
	BrowserHandle
	once sync.Once
	err  error
}

func (h *onceHandle) Release(ctx context.Context) error {
	h.once.Do(func() {
		h.err = h.BrowserHandle.Release(ctx)
	})
	return h.err
}

// ReleaseOnce wraps h so that only the first Release reaches it.
// Later calls return the first call's error.
func ReleaseOnce(h BrowserHandle) BrowserHandle {
	if h == nil {
		return nil
	}
	if _, ok := h.(*onceHandle); ok {
		return h
	}
	return &onceHandle{BrowserHandle: h}
}

// Steps are the operations the machine invokes, one per state.
// A step reports failure by returning an error; the machine decides what the failure means.
// Any page or tab a step opens must be closed before it returns.
type Steps interface {
	InitBrowser(ctx context.Context) (BrowserHandle, error)
	Authenticate(ctx context.Context, h BrowserHandle, auth Auth) error
	RetrieveUserData(ctx context.Context, h BrowserHandle) (UserData, error)
	RetrieveResumes(ctx context.Context, h BrowserHandle) ([]Resume, error)
	StoreResumes(ctx context.Context, resumes []Resume) ([]string, error)
}

// ErrStepNotConfigured is returned by StepFuncs for a nil function field
var ErrStepNotConfigured = errors.New("step not configured")

// StepFuncs implements Steps with plain functions.
// It is how a browser executor gets composed with a storage strategy.
type StepFuncs struct {
	InitBrowserFunc      func(ctx context.Context) (BrowserHandle, error)
	AuthenticateFunc     func(ctx context.Context, h BrowserHandle, auth Auth) error
	RetrieveUserDataFunc func(ctx context.Context, h BrowserHandle) (UserData, error)
	RetrieveResumesFunc  func(ctx context.Context, h BrowserHandle) ([]Resume, error)
	StoreResumesFunc     func(ctx context.Context, resumes []Resume) ([]string, error)
}

func (s StepFuncs) InitBrowser(ctx context.Context) (BrowserHandle, error) {
	if s.InitBrowserFunc == nil {
		return nil, errors.Wrap(ErrStepNotConfigured, "init-browser")
	}
	return s.InitBrowserFunc(ctx)
}

func (s StepFuncs) Authenticate(ctx context.Context, h BrowserHandle, auth Auth) error {
	if s.AuthenticateFunc == nil {
		return errors.Wrap(ErrStepNotConfigured, "authenticate")
	}
	return s.AuthenticateFunc(ctx, h, auth)
}

func (s StepFuncs) RetrieveUserData(ctx context.Context, h BrowserHandle) (UserData, error) {
	if s.RetrieveUserDataFunc == nil {
		return UserData{}, errors.Wrap(ErrStepNotConfigured, "retrieve-user-data")
	}
	return s.RetrieveUserDataFunc(ctx, h)
}

func (s StepFuncs) RetrieveResumes(ctx context.Context, h BrowserHandle) ([]Resume, error) {
	if s.RetrieveResumesFunc == nil {
		return nil, errors.Wrap(ErrStepNotConfigured, "retrieve-resumes")
	}
	return s.RetrieveResumesFunc(ctx, h)
}

func (s StepFuncs) StoreResumes(ctx context.Context, resumes []Resume) ([]string, error) {
	if s.StoreResumesFunc == nil {
		return nil, errors.Wrap(ErrStepNotConfigured, "store-resumes")
	}
	return s.StoreResumesFunc(ctx, resumes)
}

// ErrStepPanicked marks a step failure caused by a recovered panic
var ErrStepPanicked = errors.New("step panicked")

// call runs fn and turns a panic into an error for the named step
func call[T any](step string, fn func() (T, error)) (result T, err error) {
	defer func() {
		if r := recover(); r != nil {
			var zero T
			result = zero
			err = errors.Wrapf(ErrStepPanicked, "%s: %s", step, fmt.Sprint(r))
		}
	}()
	return fn()
}
