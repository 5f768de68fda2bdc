// Package scrape holds the job pipeline: the job context, the step contracts,
// the orchestration machine and the runner that bounds a job with a deadline.
//
// The package has no process wiring. A Machine can be driven from a test with
// nothing more than a StepFuncs value.
package scrape

import (
	"io"
	"strings"

	"go.uber.org/zap/zapcore"
)

// State is a composite state path. Nested states are joined with dots.
type State string

const (
	StateIdle         State = "idle"
	StateInitBrowser  State = "init-browser"
	StateAuthenticate State = "authenticate"
	// StateAuthenticated is the parallel parent; its regions carry their own leaf states.
	StateAuthenticated State = "authenticated"

	StateRetrieveUserData  State = "authenticated.scrape-user-data.retrieve-user-data"
	StateUserDataRetrieved State = "authenticated.scrape-user-data.user-data-retrieved"

	StateRetrieveResumes     State = "authenticated.scrape-resumes.retrieve-resumes"
	StateStoreResumes        State = "authenticated.scrape-resumes.store-resumes"
	StateStoredResumes       State = "authenticated.scrape-resumes.stored-resumes"
	StateFailedStoredResumes State = "authenticated.scrape-resumes.failed-stored-resumes"

	StateSuccess State = "success"
	StateFailure State = "failure"
)

// Region names inside StateAuthenticated
const (
	RegionUserData = "scrape-user-data"
	RegionResumes  = "scrape-resumes"
)

// IsTerminal reports whether no further transition can happen from s
func (s State) IsTerminal() bool {
	return s == StateSuccess || s == StateFailure
}

// Region returns the region a leaf state belongs to, or "" outside the parallel phase
func (s State) Region() string {
	parts := strings.Split(string(s), ".")
	if len(parts) == 3 && parts[0] == string(StateAuthenticated) {
		return parts[1]
	}
	return ""
}

// regionDone reports whether s is a leaf-terminal state of its region
func (s State) regionDone() bool {
	switch s {
	case StateUserDataRetrieved, StateStoredResumes, StateFailedStoredResumes:
		return true
	}
	return false
}

// Auth holds the credentials of one job.
// Neither field appears in String, GoString or log output.
type Auth struct {
	Email    string
	Password string
}

const redacted = "[REDACTED]"

func (a Auth) String() string {
	return "Auth{Email: " + redacted + ", Password: " + redacted + "}"
}

func (a Auth) GoString() string {
	return a.String()
}

// MarshalLogObject lets zap log an Auth without the credentials
func (a Auth) MarshalLogObject(enc zapcore.ObjectEncoder) error {
	enc.AddString("email", redacted)
	enc.AddString("password", redacted)
	return nil
}

// UserData is the profile scraped from the account page
type UserData struct {
	Firstname       string `json:"firstname"`
	Lastname        string `json:"lastname"`
	JobTitle        string `json:"jobTitle"`
	CurrentCompany  string `json:"currentCompany"`
	CurrentLocation string `json:"currentLocation"`
}

// Resume is one downloaded resume waiting to be stored.
// Body is owned by whoever holds the Resume and must be closed once consumed.
type Resume struct {
	Name        string
	ContentType string
	Body        io.ReadCloser
}

// CloseResumes closes every body in resumes, ignoring nil bodies
func CloseResumes(resumes []Resume) {
	for _, r := range resumes {
		if r.Body != nil {
			_ = r.Body.Close()
		}
	}
}

// Regions tracks the cursor of each region while the job is authenticated
type Regions struct {
	UserData State
	Resumes  State
}

// done reports whether both regions reached a leaf-terminal state
func (r Regions) done() bool {
	return r.UserData.regionDone() && r.Resumes.regionDone()
}

// JobContext is the mutable record of one job. It is only mutated by the
// goroutine running Machine.Run.
type JobContext struct {
	Kind    State
	Regions Regions

	// Auth is cleared as soon as authentication has been attempted
	Auth    *Auth
	Browser BrowserHandle

	// ResumeStreams is only set between retrieve-resumes and store-resumes completing
	ResumeStreams []Resume
	// ResumeURLs is nil until the resume region finishes, then always a (possibly empty) list
	ResumeURLs []string
	UserData   *UserData

	FailureReason FailureReason
}
