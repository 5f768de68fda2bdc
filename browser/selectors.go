package browser

import (
	_ "embed"
	"fmt"
	"os"

	"github.com/teranos/gdscraper/errors"
	"gopkg.in/yaml.v3"
)

//go:embed selectors.yaml
var defaultSelectors []byte

// Selectors locate the login form, the resume list and the profile modals.
// The site changes its markup more often than this code changes, so they live in YAML.
type Selectors struct {
	Login   LoginSelectors   `yaml:"login"`
	Resumes ResumeSelectors  `yaml:"resumes"`
	Profile ProfileSelectors `yaml:"profile"`
}

type LoginSelectors struct {
	Path             string `yaml:"path"`
	EmailInput       string `yaml:"email_input"`
	EmailSubmit      string `yaml:"email_submit"`
	UserNotFoundText string `yaml:"user_not_found_text"`
	PasswordInput    string `yaml:"password_input"`
	PasswordSubmit   string `yaml:"password_submit"`
}

type ResumeSelectors struct {
	Path      string `yaml:"path"`
	Container string `yaml:"container"`
	Links     string `yaml:"links"`
}

type ProfileSelectors struct {
	Path       string           `yaml:"path"`
	Ready      string           `yaml:"ready"`
	ModalClose string           `yaml:"modal_close"`
	Sections   []ProfileSection `yaml:"sections"`
}

// ProfileSection is one "Edit" modal: the link that opens it and the
// inputs read from it, keyed by user data field name.
type ProfileSection struct {
	Open   string            `yaml:"open"`
	Fields map[string]string `yaml:"fields"`
}

// User data field names a profile section may fill
const (
	FieldFirstname       = "firstname"
	FieldLastname        = "lastname"
	FieldJobTitle        = "jobTitle"
	FieldCurrentCompany  = "currentCompany"
	FieldCurrentLocation = "currentLocation"
)

var userDataFields = []string{
	FieldFirstname,
	FieldLastname,
	FieldJobTitle,
	FieldCurrentCompany,
	FieldCurrentLocation,
}

// DefaultSelectors returns the embedded selectors
func DefaultSelectors() (*Selectors, error) {
	var s Selectors
	if err := yaml.Unmarshal(defaultSelectors, &s); err != nil {
		return nil, errors.Wrap(err, "parse embedded selectors")
	}
	return &s, nil
}

// LoadSelectors returns the embedded selectors with overridePath laid over them.
// Keys missing from the override keep their embedded value; a listed
// profile.sections replaces the embedded list as a whole.
func LoadSelectors(overridePath string) (*Selectors, error) {
	s, err := DefaultSelectors()
	if err != nil {
		return nil, err
	}

	if overridePath != "" {
		data, err := os.ReadFile(overridePath)
		if err != nil {
			return nil, errors.Wrapf(err, "read selectors file %s", overridePath)
		}
		if err := yaml.Unmarshal(data, s); err != nil {
			err = errors.Wrap(err, "parse selectors file")
			return nil, errors.WithDetail(err, fmt.Sprintf("Path: %s", overridePath))
		}
	}

	if err := s.Validate(); err != nil {
		return nil, err
	}
	return s, nil
}

// Validate checks that every selector the steps use is set and that the
// profile sections cover each user data field exactly once.
func (s *Selectors) Validate() error {
	required := map[string]string{
		"login.path":                s.Login.Path,
		"login.email_input":         s.Login.EmailInput,
		"login.email_submit":        s.Login.EmailSubmit,
		"login.user_not_found_text": s.Login.UserNotFoundText,
		"login.password_input":      s.Login.PasswordInput,
		"login.password_submit":     s.Login.PasswordSubmit,
		"resumes.path":              s.Resumes.Path,
		"resumes.container":         s.Resumes.Container,
		"resumes.links":             s.Resumes.Links,
		"profile.path":              s.Profile.Path,
		"profile.ready":             s.Profile.Ready,
		"profile.modal_close":       s.Profile.ModalClose,
	}
	for key, value := range required {
		if value == "" {
			return errors.NewInvalidRequestError("selector %s is empty", key)
		}
	}

	seen := make(map[string]bool, len(userDataFields))
	for i, section := range s.Profile.Sections {
		if section.Open == "" {
			return errors.NewInvalidRequestError("profile.sections[%d].open is empty", i)
		}
		if len(section.Fields) == 0 {
			return errors.NewInvalidRequestError("profile.sections[%d] reads no fields", i)
		}
		for field, sel := range section.Fields {
			if !isUserDataField(field) {
				return errors.NewInvalidRequestError("profile.sections[%d]: unknown field %q", i, field)
			}
			if sel == "" {
				return errors.NewInvalidRequestError("profile.sections[%d].fields.%s is empty", i, field)
			}
			if seen[field] {
				return errors.NewInvalidRequestError("profile field %s is read twice", field)
			}
			seen[field] = true
		}
	}
	for _, field := range userDataFields {
		if !seen[field] {
			return errors.NewInvalidRequestError("no profile section reads %s", field)
		}
	}
	return nil
}

func isUserDataField(name string) bool {
	for _, f := range userDataFields {
		if f == name {
			return true
		}
	}
	return false
}
