package scrape

import (
	"context"
	"time"

	"github.com/teranos/gdscraper/logger"
	"go.uber.org/zap"
)

// Step names used in logs and panic errors
const (
	stepInitBrowser      = "init-browser"
	stepAuthenticate     = "authenticate"
	stepRetrieveUserData = "retrieve-user-data"
	stepRetrieveResumes  = "retrieve-resumes"
	stepStoreResumes     = "store-resumes"
)

// Transition is reported to the observer every time a state or region cursor moves
type Transition struct {
	From   State
	To     State
	Region string
	At     time.Time
}

// Machine sequences the steps of one job. A single Machine can run any number
// of jobs concurrently; each Run owns its own JobContext.
type Machine struct {
	steps    Steps
	logger   *zap.SugaredLogger
	observer func(Transition)
	now      func() time.Time
}

// Option configures a Machine
type Option func(*Machine)

// WithLogger sets the logger used for transitions and step failures
func WithLogger(l *zap.SugaredLogger) Option {
	return func(m *Machine) {
		if l != nil {
			m.logger = l
		}
	}
}

// WithTransitionObserver registers fn to be called synchronously on every transition
func WithTransitionObserver(fn func(Transition)) Option {
	return func(m *Machine) {
		m.observer = fn
	}
}

// NewMachine creates a machine invoking steps
func NewMachine(steps Steps, opts ...Option) *Machine {
	m := &Machine{
		steps:  steps,
		logger: zap.NewNop().Sugar(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// completion is the result of one region step, delivered to the orchestrator
type completion struct {
	step     string
	userData UserData
	resumes  []Resume
	urls     []string
	err      error
}

// Run drives one job from idle to a terminal state and returns its context.
// If ctx is cancelled before that, the last context is returned with a
// non-terminal Kind and the caller decides the outcome.
func (m *Machine) Run(ctx context.Context, auth Auth) *JobContext {
	log := logger.LoggerFromContext(ctx, m.logger)
	jc := &JobContext{Kind: StateIdle}
	if ctx.Err() != nil {
		return jc
	}

	jc.Auth = &auth
	m.enter(log, jc, StateInitBrowser)

	handle, err := call(stepInitBrowser, func() (BrowserHandle, error) {
		return m.steps.InitBrowser(ctx)
	})
	if handle != nil {
		jc.Browser = handle
	}
	if err != nil {
		jc.Auth = nil
		return m.fail(ctx, log, jc, stepInitBrowser, ReasonInitBrowserFailed, err)
	}
	if ctx.Err() != nil {
		jc.Auth = nil
		return jc
	}

	m.enter(log, jc, StateAuthenticate)
	creds := *jc.Auth
	_, err = call(stepAuthenticate, func() (struct{}, error) {
		return struct{}{}, m.steps.Authenticate(ctx, jc.Browser, creds)
	})
	jc.Auth = nil
	if err != nil {
		return m.fail(ctx, log, jc, stepAuthenticate, ReasonAuthenticationFailed, err)
	}
	if ctx.Err() != nil {
		return jc
	}

	return m.runAuthenticated(ctx, log, jc)
}

// runAuthenticated runs both regions and joins them
func (m *Machine) runAuthenticated(ctx context.Context, log *zap.SugaredLogger, jc *JobContext) *JobContext {
	m.enter(log, jc, StateAuthenticated)

	// One outstanding invocation per region at most
	results := make(chan completion, 2)
	pending := 0
	dispatch := func(fn func() completion) {
		pending++
		go func() { results <- fn() }()
	}

	browser := jc.Browser
	m.enterRegion(log, jc, &jc.Regions.UserData, StateRetrieveUserData)
	dispatch(func() completion {
		data, err := call(stepRetrieveUserData, func() (UserData, error) {
			return m.steps.RetrieveUserData(ctx, browser)
		})
		return completion{step: stepRetrieveUserData, userData: data, err: err}
	})

	m.enterRegion(log, jc, &jc.Regions.Resumes, StateRetrieveResumes)
	dispatch(func() completion {
		resumes, err := call(stepRetrieveResumes, func() ([]Resume, error) {
			return m.steps.RetrieveResumes(ctx, browser)
		})
		return completion{step: stepRetrieveResumes, resumes: resumes, err: err}
	})

	for !jc.Regions.done() {
		var c completion
		select {
		case <-ctx.Done():
			abandon(results, pending)
			return jc
		case c = <-results:
			pending--
		}

		switch c.step {
		case stepRetrieveUserData:
			if c.err != nil {
				abandon(results, pending)
				return m.fail(ctx, log, jc, stepRetrieveUserData, ReasonUserDataRetrievalFailed, c.err)
			}
			data := c.userData
			jc.UserData = &data
			m.enterRegion(log, jc, &jc.Regions.UserData, StateUserDataRetrieved)

		case stepRetrieveResumes:
			if c.err != nil {
				// Treated as zero resumes found; storage is skipped
				CloseResumes(c.resumes)
				log.Warnw("Resume retrieval failed, continuing without resumes",
					logger.FieldStep, stepRetrieveResumes,
					logger.FieldError, c.err)
				jc.ResumeURLs = []string{}
				m.enterRegion(log, jc, &jc.Regions.Resumes, StateStoredResumes)
				continue
			}
			streams := c.resumes
			jc.ResumeStreams = streams
			m.enterRegion(log, jc, &jc.Regions.Resumes, StateStoreResumes)
			dispatch(func() completion {
				defer CloseResumes(streams)
				urls, err := call(stepStoreResumes, func() ([]string, error) {
					return m.steps.StoreResumes(ctx, streams)
				})
				return completion{step: stepStoreResumes, urls: urls, err: err}
			})

		case stepStoreResumes:
			jc.ResumeStreams = nil
			if c.err != nil {
				log.Warnw("Resume storage failed, continuing without resumes",
					logger.FieldStep, stepStoreResumes,
					logger.FieldError, c.err)
				jc.ResumeURLs = []string{}
				m.enterRegion(log, jc, &jc.Regions.Resumes, StateFailedStoredResumes)
				continue
			}
			urls := c.urls
			if urls == nil {
				urls = []string{}
			}
			jc.ResumeURLs = urls
			m.enterRegion(log, jc, &jc.Regions.Resumes, StateStoredResumes)
		}
	}

	m.enter(log, jc, StateSuccess)
	return jc
}

// fail moves jc to failure unless the step failed because ctx ended,
// in which case jc is returned unchanged for the caller to time out.
func (m *Machine) fail(ctx context.Context, log *zap.SugaredLogger, jc *JobContext, step string, reason FailureReason, err error) *JobContext {
	if ctx.Err() != nil {
		log.Debugw("Step interrupted by cancellation", logger.FieldStep, step, logger.FieldError, err)
		return jc
	}
	log.Warnw("Step failed",
		logger.FieldStep, step,
		logger.FieldReason, string(reason),
		logger.FieldError, err)
	jc.FailureReason = reason
	m.enter(log, jc, StateFailure)
	return jc
}

func (m *Machine) enter(log *zap.SugaredLogger, jc *JobContext, to State) {
	from := jc.Kind
	jc.Kind = to
	m.notify(log, Transition{From: from, To: to, At: m.now()})
}

func (m *Machine) enterRegion(log *zap.SugaredLogger, jc *JobContext, cursor *State, to State) {
	from := *cursor
	if from == "" {
		from = StateAuthenticated
	}
	*cursor = to
	m.notify(log, Transition{From: from, To: to, Region: to.Region(), At: m.now()})
}

func (m *Machine) notify(log *zap.SugaredLogger, t Transition) {
	log.Debugw("Transitioning to "+string(t.To), logger.FieldFrom, string(t.From), logger.FieldState, string(t.To))
	if m.observer != nil {
		m.observer(t)
	}
}

// abandon drains the in-flight region invocations in the background and
// closes any resume streams they produce.
func abandon(results <-chan completion, pending int) {
	if pending == 0 {
		return
	}
	go func() {
		for i := 0; i < pending; i++ {
			c := <-results
			CloseResumes(c.resumes)
		}
	}()
}
