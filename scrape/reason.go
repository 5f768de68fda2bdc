package scrape

// FailureReason is the fixed set of job-level failure codes
type FailureReason string

const (
	ReasonNone                    FailureReason = ""
	ReasonInitBrowserFailed       FailureReason = "INIT_BROWSER_FAILED"
	ReasonAuthenticationFailed    FailureReason = "AUTHENTICATION_FAILED"
	ReasonUserDataRetrievalFailed FailureReason = "USER_DATA_RETRIEVAL_FAILED"
	ReasonJobTimeout              FailureReason = "JOB_TIMEOUT"
)

// Reasons lists every failure code in declaration order
func Reasons() []FailureReason {
	return []FailureReason{
		ReasonInitBrowserFailed,
		ReasonAuthenticationFailed,
		ReasonUserDataRetrievalFailed,
		ReasonJobTimeout,
	}
}

// Valid reports whether r is one of the declared failure codes
func (r FailureReason) Valid() bool {
	for _, known := range Reasons() {
		if r == known {
			return true
		}
	}
	return false
}
