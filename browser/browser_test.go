package browser

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	cdpbrowser "github.com/chromedp/cdproto/browser"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/teranos/gdscraper/am"
	"github.com/teranos/gdscraper/errors"
	"github.com/teranos/gdscraper/scrape"
	"go.uber.org/zap/zaptest"
)

func testConfig() am.BrowserConfig {
	return am.BrowserConfig{
		Headless:      true,
		Locale:        "en-US",
		Timezone:      "Europe/Berlin",
		StepTimeoutMS: 2000,
		BaseURL:       "https://www.glassdoor.com",
	}
}

func TestDefaultSelectorsAreValid(t *testing.T) {
	s, err := DefaultSelectors()
	require.NoError(t, err)
	require.NoError(t, s.Validate())

	assert.Equal(t, "/index.htm", s.Login.Path)
	assert.Equal(t, "Create your account", s.Login.UserNotFoundText)
	assert.Equal(t, "div.resume div.resumeFileName > a", s.Resumes.Links)
	assert.Len(t, s.Profile.Sections, 4)
	assert.Equal(t, `[data-test="profileModalLastName"]`, s.Profile.Sections[0].Fields[FieldLastname])
}

func TestLoadSelectorsOverride(t *testing.T) {
	path := filepath.Join(t.TempDir(), "selectors.yaml")
	override := `
resumes:
  container: section.resumes
login:
  user_not_found_text: Sign up
`
	require.NoError(t, os.WriteFile(path, []byte(override), 0o644))

	s, err := LoadSelectors(path)
	require.NoError(t, err)
	assert.Equal(t, "section.resumes", s.Resumes.Container)
	assert.Equal(t, "Sign up", s.Login.UserNotFoundText)
	// Untouched keys keep their embedded values
	assert.Equal(t, "/member/profile/resumes.htm", s.Resumes.Path)
	assert.Len(t, s.Profile.Sections, 4)
}

func TestLoadSelectorsRejectsIncompleteProfile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "selectors.yaml")
	override := `
profile:
  sections:
    - open: a.name
      fields:
        firstname: input.first
        lastname: input.last
`
	require.NoError(t, os.WriteFile(path, []byte(override), 0o644))

	_, err := LoadSelectors(path)
	require.Error(t, err)
	assert.True(t, errors.IsInvalidRequestError(err))
	assert.Contains(t, err.Error(), "jobTitle")
}

func TestLoadSelectorsRejectsUnknownField(t *testing.T) {
	s, err := DefaultSelectors()
	require.NoError(t, err)
	s.Profile.Sections[1].Fields["salary"] = "input.salary"
	assert.Error(t, s.Validate())

	s, err = DefaultSelectors()
	require.NoError(t, err)
	s.Login.PasswordInput = ""
	err = s.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "login.password_input")
}

func TestLoadSelectorsMissingFile(t *testing.T) {
	_, err := LoadSelectors(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestParseFlags(t *testing.T) {
	flags, err := ParseFlags(`--proxy-server=http://proxy:3128 --disable-extensions --window-size="1280,800"`)
	require.NoError(t, err)
	assert.Equal(t, map[string]interface{}{
		"proxy-server":       "http://proxy:3128",
		"disable-extensions": true,
		"window-size":        "1280,800",
	}, flags)

	flags, err = ParseFlags("")
	require.NoError(t, err)
	assert.Empty(t, flags)

	_, err = ParseFlags(`--user-data-dir="/tmp/unterminated`)
	assert.True(t, errors.IsInvalidRequestError(err))

	_, err = ParseFlags("headless")
	assert.True(t, errors.IsInvalidRequestError(err))
}

func TestNewLauncher(t *testing.T) {
	cfg := testConfig()
	cfg.ExtraFlags = "--mute-audio"
	l, err := NewLauncher(cfg, nil, zaptest.NewLogger(t).Sugar())
	require.NoError(t, err)
	assert.Equal(t, "https://www.glassdoor.com/member/profile/index.htm", l.pageURL(l.selectors.Profile.Path))

	cfg.BaseURL = "glassdoor"
	_, err = NewLauncher(cfg, nil, nil)
	assert.True(t, errors.IsInvalidRequestError(err))

	cfg = testConfig()
	cfg.ExtraFlags = "mute-audio"
	_, err = NewLauncher(cfg, nil, nil)
	assert.Error(t, err)
}

func TestPageURLKeepsBasePath(t *testing.T) {
	cfg := testConfig()
	cfg.BaseURL = "http://127.0.0.1:8080"
	l, err := NewLauncher(cfg, nil, nil)
	require.NoError(t, err)
	assert.Equal(t, "http://127.0.0.1:8080/index.htm", l.pageURL("/index.htm"))
}

func TestStepsRejectForeignHandle(t *testing.T) {
	l, err := NewLauncher(testConfig(), nil, nil)
	require.NoError(t, err)

	type otherHandle struct{ scrape.BrowserHandle }
	ctx := context.Background()

	err = l.Authenticate(ctx, otherHandle{}, scrape.Auth{Email: "a@b.co", Password: "pass"})
	assert.ErrorIs(t, err, ErrWrongHandle)
	_, err = l.RetrieveUserData(ctx, &Handle{})
	assert.ErrorIs(t, err, ErrWrongHandle)
	_, err = l.RetrieveResumes(ctx, nil)
	assert.ErrorIs(t, err, ErrWrongHandle)
}

func TestHandleReleaseOnce(t *testing.T) {
	dir := t.TempDir()
	downloads := filepath.Join(dir, "downloads")
	require.NoError(t, os.Mkdir(downloads, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(downloads, "guid"), []byte("pdf"), 0o644))

	var cancels, allocCancels int
	h := &Handle{
		cancel:      func() { cancels++ },
		allocCancel: func() { allocCancels++ },
		downloadDir: downloads,
	}

	require.NoError(t, h.Release(context.Background()))
	require.NoError(t, h.Release(context.Background()))
	assert.Equal(t, 1, cancels)
	assert.Equal(t, 1, allocCancels)
	_, err := os.Stat(downloads)
	assert.True(t, os.IsNotExist(err))
}

func TestUserDataFromFields(t *testing.T) {
	fields := map[string]string{
		FieldFirstname:       "Seto",
		FieldLastname:        "Kaiba",
		FieldJobTitle:        "CEO",
		FieldCurrentCompany:  "Kaiba Corp",
		FieldCurrentLocation: "Domino City",
	}
	ud, err := userDataFromFields(fields)
	require.NoError(t, err)
	assert.Equal(t, scrape.UserData{
		Firstname:       "Seto",
		Lastname:        "Kaiba",
		JobTitle:        "CEO",
		CurrentCompany:  "Kaiba Corp",
		CurrentLocation: "Domino City",
	}, ud)

	fields[FieldJobTitle] = "  "
	_, err = userDataFromFields(fields)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "jobTitle")
}

func TestDownloadsTracker(t *testing.T) {
	d := newDownloads()
	d.handle(&cdpbrowser.EventDownloadWillBegin{GUID: "g1", SuggestedFilename: "cv.pdf"})
	d.handle(&cdpbrowser.EventDownloadProgress{GUID: "g1", State: cdpbrowser.DownloadProgressStateInProgress})
	d.handle(&cdpbrowser.EventDownloadProgress{GUID: "g1", State: cdpbrowser.DownloadProgressStateCompleted})
	d.handle(&cdpbrowser.EventDownloadProgress{GUID: "g2", State: cdpbrowser.DownloadProgressStateCanceled})

	first := <-d.done
	assert.Equal(t, "g1", first.guid)
	assert.Equal(t, "cv.pdf", first.filename)
	assert.NoError(t, first.err)

	second := <-d.done
	assert.Equal(t, "g2", second.guid)
	assert.Error(t, second.err)

	select {
	case extra := <-d.done:
		t.Fatalf("unexpected download event %+v", extra)
	default:
	}
}

func TestContentTypeFor(t *testing.T) {
	assert.Equal(t, "application/pdf", contentTypeFor("Resume.PDF"))
	assert.Equal(t, "application/octet-stream", contentTypeFor("resume"))
}

func TestStepsComposition(t *testing.T) {
	l, err := NewLauncher(testConfig(), nil, nil)
	require.NoError(t, err)

	called := false
	steps := l.Steps(func(ctx context.Context, resumes []scrape.Resume) ([]string, error) {
		called = true
		return []string{}, nil
	})
	_, err = steps.StoreResumes(context.Background(), nil)
	require.NoError(t, err)
	assert.True(t, called)
	assert.NotNil(t, steps.InitBrowserFunc)
}
