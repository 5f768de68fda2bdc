package am

import (
	"sort"

	"github.com/BurntSushi/toml"

	"github.com/teranos/gdscraper/errors"
)

// CheckResult reports what a strict decode of a config file found
type CheckResult struct {
	Path        string
	UnknownKeys []string // Keys present in the file that no Config field accepts
	Err         error    // Validation error of defaults merged with the file
}

// OK reports whether the file is free of unknown keys and validates
func (r CheckResult) OK() bool {
	return len(r.UnknownKeys) == 0 && r.Err == nil
}

// CheckFile decodes path strictly and validates the result. Viper silently
// ignores misspelled keys, so typos like `job_timout_ms` only show up here.
func CheckFile(path string) (CheckResult, error) {
	result := CheckResult{Path: path}

	cfg := DefaultConfig()
	meta, err := toml.DecodeFile(path, cfg)
	if err != nil {
		return result, errors.Wrapf(err, "failed to parse %s", path)
	}

	for _, key := range meta.Undecoded() {
		result.UnknownKeys = append(result.UnknownKeys, key.String())
	}
	sort.Strings(result.UnknownKeys)

	result.Err = cfg.Validate()
	return result, nil
}
