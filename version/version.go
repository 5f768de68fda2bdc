package version

import (
	"fmt"
	"runtime"

	"github.com/Masterminds/semver/v3"
	"github.com/teranos/gdscraper/errors"
)

// Build information. These variables are set at build time via ldflags.
var (
	// CommitHash is the git commit hash when the binary was built
	CommitHash = "dev"

	// BuildTime is when the binary was built
	BuildTime = "unknown"

	// Version is the semantic version (if tagged)
	Version = "dev"
)

// Release channels
const (
	ChannelRelease    = "release"
	ChannelPrerelease = "prerelease"
	ChannelDev        = "dev"
)

// Info contains version and build information
type Info struct {
	CommitHash string `json:"commit_hash"`
	BuildTime  string `json:"build_time"`
	Version    string `json:"version"`
	Channel    string `json:"channel"`
	GoVersion  string `json:"go_version"`
	Platform   string `json:"platform"`
}

// Get returns the current version information
func Get() Info {
	return Info{
		CommitHash: CommitHash,
		BuildTime:  BuildTime,
		Version:    Version,
		Channel:    channelOf(Version),
		GoVersion:  runtime.Version(),
		Platform:   fmt.Sprintf("%s/%s", runtime.GOOS, runtime.GOARCH),
	}
}

// channelOf classifies a version string. Anything that is not semver is a dev build.
func channelOf(v string) string {
	sv, err := semver.NewVersion(v)
	if err != nil {
		return ChannelDev
	}
	if sv.Prerelease() != "" {
		return ChannelPrerelease
	}
	return ChannelRelease
}

// Satisfies reports whether this build matches a constraint such as ">= 1.2, < 2".
// Dev builds satisfy every constraint.
func (i Info) Satisfies(constraint string) (bool, error) {
	c, err := semver.NewConstraint(constraint)
	if err != nil {
		return false, errors.Wrapf(err, "invalid version constraint %q", constraint)
	}
	if i.Channel == ChannelDev {
		return true, nil
	}
	v, err := semver.NewVersion(i.Version)
	if err != nil {
		return false, errors.Wrapf(err, "invalid version %q", i.Version)
	}
	return c.Check(v), nil
}

// String returns a human-readable version string
func (i Info) String() string {
	if i.Channel != ChannelDev {
		return fmt.Sprintf("gdscraper %s (commit %s, built %s)", i.Version, i.CommitHash, i.BuildTime)
	}
	return fmt.Sprintf("gdscraper dev (commit %s, built %s)", i.CommitHash, i.BuildTime)
}

// Short returns a short version string with just the commit hash
func (i Info) Short() string {
	if len(i.CommitHash) >= 7 {
		return i.CommitHash[:7]
	}
	return i.CommitHash
}
