package config

import (
	"fmt"

	"github.com/evenact/dispatch/internal/common/yamlutil"
)

// LoadYAML decodes a YAML document into an Options patch using strict
// field checking, so a typo'd key (e.g. "actcahce") fails loudly instead of
// silently taking the default.
func LoadYAML(data []byte) (Options, error) {
	var patch Options
	if err := yamlutil.UnmarshalStrict(data, &patch); err != nil {
		return Options{}, fmt.Errorf("config: %w", err)
	}
	return patch, nil
}

// Resolve loads a YAML patch (if data is non-nil) and merges it over
// Defaults(), then validates the result. This is the full options(patch)
// pipeline used at construction time when options arrive as a config file
// rather than an in-process Options value.
func Resolve(data []byte) (Options, error) {
	opts := Defaults()
	if data == nil {
		if err := Validate(opts); err != nil {
			return Options{}, err
		}
		return opts, nil
	}

	patch, err := LoadYAML(data)
	if err != nil {
		return Options{}, err
	}

	opts = Merge(opts, patch)
	if err := Validate(opts); err != nil {
		return Options{}, err
	}
	return opts, nil
}
