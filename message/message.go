// Package message holds the wire formats exchanged over the bus: the inbound
// credential message and the outbound success and failure results.
package message

import (
	"bytes"
	"encoding/json"
	"net/mail"
	"time"

	"github.com/teranos/gdscraper/errors"
	"github.com/teranos/gdscraper/scrape"
)

// MinFieldLength is the shortest accepted email or password
const MinFieldLength = 4

// ErrInvalidInput marks inbound messages that fail validation
var ErrInvalidInput = errors.New("invalid input")

// Input is the inbound job message
type Input struct {
	Auth AuthInput `json:"auth"`
}

// AuthInput carries the credentials of an inbound message
type AuthInput struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// ScrapeAuth converts the credentials for the machine
func (i Input) ScrapeAuth() scrape.Auth {
	return scrape.Auth{Email: i.Auth.Email, Password: i.Auth.Password}
}

// ParseInput decodes and validates an inbound message
func ParseInput(raw []byte) (Input, error) {
	var in Input
	dec := json.NewDecoder(bytes.NewReader(raw))
	if err := dec.Decode(&in); err != nil {
		return Input{}, errors.Mark(errors.Wrap(err, "decode input"), ErrInvalidInput)
	}
	if err := in.Validate(); err != nil {
		return Input{}, err
	}
	return in, nil
}

// Validate applies the inbound schema rules. Error messages never include the credentials.
func (i Input) Validate() error {
	email := i.Auth.Email
	if len(email) < MinFieldLength {
		return errors.Mark(errors.Newf("auth.email must be at least %d characters", MinFieldLength), ErrInvalidInput)
	}
	addr, err := mail.ParseAddress(email)
	if err != nil || addr.Address != email {
		return errors.Mark(errors.New("auth.email is not a valid address"), ErrInvalidInput)
	}
	if len(i.Auth.Password) < MinFieldLength {
		return errors.Mark(errors.Newf("auth.password must be at least %d characters", MinFieldLength), ErrInvalidInput)
	}
	return nil
}

// EncodeInput builds an inbound message, as used by the enqueue command
func EncodeInput(auth scrape.Auth) ([]byte, error) {
	in := Input{Auth: AuthInput{Email: auth.Email, Password: auth.Password}}
	if err := in.Validate(); err != nil {
		return nil, err
	}
	return json.Marshal(in)
}

// Meta is attached to every result
type Meta struct {
	MS float64 `json:"ms"`
}

// SuccessPayload is the payload of a success result
type SuccessPayload struct {
	UserData   scrape.UserData `json:"userData"`
	ResumeURLs []string        `json:"resumeURLs"`
}

// FailurePayload is the payload of a failure result
type FailurePayload struct {
	Reason string `json:"reason"`
}

// SuccessResult is the success message body
type SuccessResult struct {
	Payload SuccessPayload `json:"payload"`
	Meta    Meta           `json:"meta"`
}

// FailureResult is the failure message body
type FailureResult struct {
	Payload FailurePayload `json:"payload"`
	Meta    Meta           `json:"meta"`
}

// Milliseconds converts an elapsed duration to the fractional milliseconds of Meta
func Milliseconds(d time.Duration) float64 {
	return float64(d) / float64(time.Millisecond)
}

// EncodeOutcome renders an outcome as a success or failure message body,
// indented with two spaces.
func EncodeOutcome(out scrape.Outcome) ([]byte, error) {
	meta := Meta{MS: Milliseconds(out.Elapsed)}

	var body interface{}
	if out.Success {
		payload := SuccessPayload{ResumeURLs: out.ResumeURLs}
		if payload.ResumeURLs == nil {
			payload.ResumeURLs = []string{}
		}
		if out.UserData != nil {
			payload.UserData = *out.UserData
		}
		body = SuccessResult{Payload: payload, Meta: meta}
	} else {
		if out.Reason == scrape.ReasonNone {
			return nil, errors.AssertionFailedf("failure outcome %s has no reason", out.Key)
		}
		body = FailureResult{Payload: FailurePayload{Reason: string(out.Reason)}, Meta: meta}
	}

	raw, err := json.MarshalIndent(body, "", "  ")
	if err != nil {
		return nil, errors.Wrap(err, "encode outcome")
	}
	return raw, nil
}
