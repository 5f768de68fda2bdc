package scrape

import (
	"context"
	"fmt"
	"io"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/teranos/gdscraper/errors"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

type fakeHandle struct {
	releases atomic.Int32
}

func (h *fakeHandle) Release(ctx context.Context) error {
	h.releases.Add(1)
	return nil
}

type trackingBody struct {
	io.Reader
	closed atomic.Bool
}

func (b *trackingBody) Close() error {
	b.closed.Store(true)
	return nil
}

func newResumes(n int) ([]Resume, []*trackingBody) {
	resumes := make([]Resume, n)
	bodies := make([]*trackingBody, n)
	for i := range resumes {
		bodies[i] = &trackingBody{Reader: strings.NewReader(fmt.Sprintf("resume %d", i))}
		resumes[i] = Resume{Name: fmt.Sprintf("resume-%d.pdf", i), ContentType: "application/pdf", Body: bodies[i]}
	}
	return resumes, bodies
}

var testUserData = UserData{
	Firstname:       "A",
	Lastname:        "B",
	JobTitle:        "C",
	CurrentCompany:  "D",
	CurrentLocation: "E",
}

var testAuth = Auth{Email: "kirby@dreamland.test", Password: "warpstar"}

// happySteps returns steps where everything succeeds with two resumes
func happySteps(h *fakeHandle, bodies *[]*trackingBody) StepFuncs {
	return StepFuncs{
		InitBrowserFunc: func(ctx context.Context) (BrowserHandle, error) {
			return h, nil
		},
		AuthenticateFunc: func(ctx context.Context, bh BrowserHandle, auth Auth) error {
			return nil
		},
		RetrieveUserDataFunc: func(ctx context.Context, bh BrowserHandle) (UserData, error) {
			return testUserData, nil
		},
		RetrieveResumesFunc: func(ctx context.Context, bh BrowserHandle) ([]Resume, error) {
			resumes, b := newResumes(2)
			if bodies != nil {
				*bodies = b
			}
			return resumes, nil
		},
		StoreResumesFunc: func(ctx context.Context, resumes []Resume) ([]string, error) {
			return []string{"url1", "url2"}, nil
		},
	}
}

func TestMachineSuccess(t *testing.T) {
	h := &fakeHandle{}
	var bodies []*trackingBody
	m := NewMachine(happySteps(h, &bodies))

	jc := m.Run(context.Background(), testAuth)

	assert.Equal(t, StateSuccess, jc.Kind)
	require.NotNil(t, jc.UserData)
	assert.Equal(t, testUserData, *jc.UserData)
	assert.Equal(t, []string{"url1", "url2"}, jc.ResumeURLs)
	assert.Equal(t, ReasonNone, jc.FailureReason)
	assert.Same(t, h, jc.Browser)
	assert.Nil(t, jc.Auth, "credentials must not outlive authentication")
	assert.Nil(t, jc.ResumeStreams)
	assert.Equal(t, StateUserDataRetrieved, jc.Regions.UserData)
	assert.Equal(t, StateStoredResumes, jc.Regions.Resumes)

	// The machine never releases the browser, but it closes consumed streams
	assert.Equal(t, int32(0), h.releases.Load())
	require.Len(t, bodies, 2)
	for _, b := range bodies {
		assert.True(t, b.closed.Load())
	}
}

func TestMachineStoreFailureYieldsEmptyList(t *testing.T) {
	h := &fakeHandle{}
	var bodies []*trackingBody
	steps := happySteps(h, &bodies)
	steps.StoreResumesFunc = func(ctx context.Context, resumes []Resume) ([]string, error) {
		require.Len(t, resumes, 2)
		return []string{"url1"}, errors.New("bucket unavailable")
	}

	jc := NewMachine(steps).Run(context.Background(), testAuth)

	assert.Equal(t, StateSuccess, jc.Kind)
	assert.NotNil(t, jc.ResumeURLs)
	assert.Empty(t, jc.ResumeURLs, "partial lists are never reported")
	assert.Equal(t, StateFailedStoredResumes, jc.Regions.Resumes)
	require.NotNil(t, jc.UserData)
	assert.Equal(t, testUserData, *jc.UserData)
	for _, b := range bodies {
		assert.True(t, b.closed.Load())
	}
}

func TestMachineRetrieveResumesFailureSkipsStorage(t *testing.T) {
	h := &fakeHandle{}
	steps := happySteps(h, nil)
	steps.RetrieveResumesFunc = func(ctx context.Context, bh BrowserHandle) ([]Resume, error) {
		return nil, errors.New("resume list did not load")
	}
	var storeCalled atomic.Bool
	steps.StoreResumesFunc = func(ctx context.Context, resumes []Resume) ([]string, error) {
		storeCalled.Store(true)
		return []string{}, nil
	}

	jc := NewMachine(steps).Run(context.Background(), testAuth)

	assert.Equal(t, StateSuccess, jc.Kind)
	assert.NotNil(t, jc.ResumeURLs)
	assert.Empty(t, jc.ResumeURLs)
	require.NotNil(t, jc.UserData)
	assert.Equal(t, testUserData, *jc.UserData)
	assert.False(t, storeCalled.Load(), "storage must not be attempted after a retrieval failure")
}

func TestMachineZeroResumesStillStores(t *testing.T) {
	steps := happySteps(&fakeHandle{}, nil)
	steps.RetrieveResumesFunc = func(ctx context.Context, bh BrowserHandle) ([]Resume, error) {
		return nil, nil
	}
	steps.StoreResumesFunc = func(ctx context.Context, resumes []Resume) ([]string, error) {
		assert.Empty(t, resumes)
		return nil, nil
	}

	jc := NewMachine(steps).Run(context.Background(), testAuth)

	assert.Equal(t, StateSuccess, jc.Kind)
	assert.Equal(t, []string{}, jc.ResumeURLs)
}

func TestMachineInitBrowserFailure(t *testing.T) {
	steps := happySteps(&fakeHandle{}, nil)
	steps.InitBrowserFunc = func(ctx context.Context) (BrowserHandle, error) {
		return nil, errors.New("chrome not found")
	}

	jc := NewMachine(steps).Run(context.Background(), testAuth)

	assert.Equal(t, StateFailure, jc.Kind)
	assert.Equal(t, ReasonInitBrowserFailed, jc.FailureReason)
	assert.Nil(t, jc.Browser)
	assert.Nil(t, jc.Auth)
}

func TestMachineAuthenticationFailure(t *testing.T) {
	h := &fakeHandle{}
	steps := happySteps(h, nil)
	var dataCalled atomic.Bool
	steps.AuthenticateFunc = func(ctx context.Context, bh BrowserHandle, auth Auth) error {
		assert.Equal(t, testAuth, auth)
		return errors.New("PASSWORD_INCORRECT")
	}
	steps.RetrieveUserDataFunc = func(ctx context.Context, bh BrowserHandle) (UserData, error) {
		dataCalled.Store(true)
		return testUserData, nil
	}

	jc := NewMachine(steps).Run(context.Background(), testAuth)

	assert.Equal(t, StateFailure, jc.Kind)
	assert.Equal(t, ReasonAuthenticationFailed, jc.FailureReason)
	assert.Nil(t, jc.UserData)
	assert.Nil(t, jc.ResumeURLs)
	assert.Nil(t, jc.Auth)
	assert.Same(t, h, jc.Browser, "browser stays in the context for the caller to release")
	assert.False(t, dataCalled.Load())
}

func TestMachineUserDataFailureIsOrderIndependent(t *testing.T) {
	t.Run("resume region already done", func(t *testing.T) {
		stored := make(chan struct{})
		var once sync.Once
		observe := func(tr Transition) {
			if tr.To == StateStoredResumes {
				once.Do(func() { close(stored) })
			}
		}
		steps := happySteps(&fakeHandle{}, nil)
		steps.RetrieveUserDataFunc = func(ctx context.Context, bh BrowserHandle) (UserData, error) {
			<-stored
			return UserData{}, errors.New("profile page timeout")
		}

		jc := NewMachine(steps, WithTransitionObserver(observe)).Run(context.Background(), testAuth)

		assert.Equal(t, StateFailure, jc.Kind)
		assert.Equal(t, ReasonUserDataRetrievalFailed, jc.FailureReason)
		assert.Equal(t, StateStoredResumes, jc.Regions.Resumes)
	})

	t.Run("resume region in flight", func(t *testing.T) {
		unblock := make(chan struct{})
		var bodies []*trackingBody
		var mu sync.Mutex
		steps := happySteps(&fakeHandle{}, nil)
		steps.RetrieveResumesFunc = func(ctx context.Context, bh BrowserHandle) ([]Resume, error) {
			<-unblock
			resumes, b := newResumes(2)
			mu.Lock()
			bodies = b
			mu.Unlock()
			return resumes, nil
		}
		var storeCalled atomic.Bool
		steps.StoreResumesFunc = func(ctx context.Context, resumes []Resume) ([]string, error) {
			storeCalled.Store(true)
			return nil, nil
		}
		steps.RetrieveUserDataFunc = func(ctx context.Context, bh BrowserHandle) (UserData, error) {
			return UserData{}, errors.New("profile page timeout")
		}

		jc := NewMachine(steps).Run(context.Background(), testAuth)

		assert.Equal(t, StateFailure, jc.Kind)
		assert.Equal(t, ReasonUserDataRetrievalFailed, jc.FailureReason)
		assert.Equal(t, StateRetrieveResumes, jc.Regions.Resumes)

		// The late retrieval result is discarded and its streams closed
		close(unblock)
		assert.Eventually(t, func() bool {
			mu.Lock()
			defer mu.Unlock()
			if len(bodies) != 2 {
				return false
			}
			return bodies[0].closed.Load() && bodies[1].closed.Load()
		}, time.Second, 5*time.Millisecond)
		assert.False(t, storeCalled.Load())
	})
}

func TestMachineStepPanicBecomesFailure(t *testing.T) {
	steps := happySteps(&fakeHandle{}, nil)
	steps.AuthenticateFunc = func(ctx context.Context, bh BrowserHandle, auth Auth) error {
		panic("nil page")
	}

	jc := NewMachine(steps).Run(context.Background(), testAuth)

	assert.Equal(t, StateFailure, jc.Kind)
	assert.Equal(t, ReasonAuthenticationFailed, jc.FailureReason)
}

func TestMachineResumePanicIsTolerated(t *testing.T) {
	steps := happySteps(&fakeHandle{}, nil)
	steps.RetrieveResumesFunc = func(ctx context.Context, bh BrowserHandle) ([]Resume, error) {
		var resumes []Resume
		_ = resumes[3]
		return resumes, nil
	}

	jc := NewMachine(steps).Run(context.Background(), testAuth)

	assert.Equal(t, StateSuccess, jc.Kind)
	assert.Equal(t, []string{}, jc.ResumeURLs)
}

func TestMachineMissingStepFails(t *testing.T) {
	jc := NewMachine(StepFuncs{}).Run(context.Background(), testAuth)

	assert.Equal(t, StateFailure, jc.Kind)
	assert.Equal(t, ReasonInitBrowserFailed, jc.FailureReason)
}

func TestMachineReportsTransitions(t *testing.T) {
	var transitions []Transition
	m := NewMachine(happySteps(&fakeHandle{}, nil), WithTransitionObserver(func(tr Transition) {
		transitions = append(transitions, tr)
	}))

	jc := m.Run(context.Background(), testAuth)
	require.Equal(t, StateSuccess, jc.Kind)

	var targets []State
	for _, tr := range transitions {
		assert.False(t, tr.At.IsZero())
		targets = append(targets, tr.To)
	}
	assert.Equal(t, []State{StateInitBrowser, StateAuthenticate, StateAuthenticated, StateRetrieveUserData, StateRetrieveResumes}, targets[:5])
	assert.Equal(t, StateSuccess, targets[len(targets)-1])
	assert.Contains(t, targets, StateUserDataRetrieved)
	assert.Contains(t, targets, StateStoreResumes)
	assert.Contains(t, targets, StateStoredResumes)

	assert.Equal(t, StateIdle, transitions[0].From)
	assert.Equal(t, RegionUserData, transitions[3].Region)
	assert.Equal(t, RegionResumes, transitions[4].Region)
}

func TestMachineCancelledContext(t *testing.T) {
	t.Run("before start", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		jc := NewMachine(happySteps(&fakeHandle{}, nil)).Run(ctx, testAuth)

		assert.Equal(t, StateIdle, jc.Kind)
		assert.False(t, jc.Kind.IsTerminal())
	})

	t.Run("during parallel phase", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		h := &fakeHandle{}
		steps := happySteps(h, nil)
		steps.RetrieveUserDataFunc = func(ctx context.Context, bh BrowserHandle) (UserData, error) {
			cancel()
			<-ctx.Done()
			return UserData{}, ctx.Err()
		}

		jc := NewMachine(steps).Run(ctx, testAuth)

		assert.Equal(t, StateAuthenticated, jc.Kind)
		assert.Equal(t, ReasonNone, jc.FailureReason, "cancellation is left to the caller")
		assert.Same(t, h, jc.Browser)
	})
}

func TestStateHelpers(t *testing.T) {
	assert.True(t, StateSuccess.IsTerminal())
	assert.True(t, StateFailure.IsTerminal())
	assert.False(t, StateAuthenticated.IsTerminal())
	assert.False(t, StateStoredResumes.IsTerminal())

	assert.Equal(t, RegionResumes, StateFailedStoredResumes.Region())
	assert.Equal(t, RegionUserData, StateRetrieveUserData.Region())
	assert.Equal(t, "", StateAuthenticate.Region())

	assert.True(t, ReasonJobTimeout.Valid())
	assert.False(t, FailureReason("FAIL_INIT_BROWSER").Valid())
}

func TestAuthNeverPrintsCredentials(t *testing.T) {
	printed := fmt.Sprintf("%v %+v %#v %s", testAuth, testAuth, testAuth, testAuth)
	assert.NotContains(t, printed, testAuth.Password)
	assert.NotContains(t, printed, testAuth.Email)

	core, logs := observer.New(zapcore.DebugLevel)
	zap.New(core).Sugar().Infow("Job started", "auth", testAuth)
	require.Equal(t, 1, logs.Len())
	logged := fmt.Sprint(logs.All()[0].ContextMap())
	assert.NotContains(t, logged, testAuth.Password)
	assert.NotContains(t, logged, testAuth.Email)
	assert.Contains(t, logged, redacted)
}
