// Package challenge models the challenge-definition files authors
// upload to the asset bucket. One file may declare a single challenge
// or a list of them.
package challenge

import (
	"bytes"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"

	"github.com/ctfer-io/ctfd-deploy/pkg/errs"
)

// Challenge is one entry of a challenge asset.
type Challenge struct {
	Name        string   `yaml:"name"        json:"name"`
	Category    string   `yaml:"category"    json:"category"`
	Description string   `yaml:"description" json:"description"`
	Value       int      `yaml:"value"       json:"value"`
	Type        string   `yaml:"type"        json:"type"`
	State       string   `yaml:"state"       json:"state"`
	Flags       []string `yaml:"flags"       json:"-"`
}

func (c Challenge) validate() error {
	if c.Name == "" {
		return errors.New("challenge name is required")
	}
	if c.Category == "" {
		return errors.New("challenge category is required")
	}
	if c.Value < 0 {
		return errors.Errorf("challenge %q has a negative value", c.Name)
	}
	return nil
}

func (c *Challenge) applyDefaults() {
	if c.Type == "" {
		c.Type = "standard"
	}
	if c.State == "" {
		c.State = "visible"
	}
}

// Decode parses a challenge asset body. It accepts either a single
// document or a YAML sequence of challenges, and returns all records
// or none: a single invalid entry fails the whole asset so a partial
// file is never half-applied.
func Decode(key string, body []byte) ([]Challenge, error) {
	if len(bytes.TrimSpace(body)) == 0 {
		return nil, &errs.ErrMalformedInput{Key: key, Sub: errors.New("empty body")}
	}

	var list []Challenge
	if err := yaml.Unmarshal(body, &list); err != nil {
		var single Challenge
		if serr := yaml.Unmarshal(body, &single); serr != nil {
			return nil, &errs.ErrMalformedInput{Key: key, Sub: err}
		}
		list = []Challenge{single}
	}
	if len(list) == 0 {
		return nil, &errs.ErrMalformedInput{Key: key, Sub: errors.New("no challenge records")}
	}

	for i := range list {
		list[i].applyDefaults()
		if err := list[i].validate(); err != nil {
			return nil, &errs.ErrMalformedInput{Key: key, Sub: err}
		}
	}
	return list, nil
}
