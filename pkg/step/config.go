package step

import (
	"errors"
	"fmt"
	"math"
	"strings"
)

// Config is the typed configuration record attached to every run. Each
// field is one command-line flag.
type Config struct {
	InputArtifact     string  `json:"input_artifact" yaml:"input_artifact"`
	OutputArtifact    string  `json:"output_artifact" yaml:"output_artifact"`
	OutputType        string  `json:"output_type" yaml:"output_type"`
	OutputDescription string  `json:"output_description" yaml:"output_description"`
	MinPrice          float64 `json:"min_price" yaml:"min_price"`
	MaxPrice          float64 `json:"max_price" yaml:"max_price"`
}

// Validate checks that every field is present. min_price > max_price is
// allowed and produces an empty output.
func (c Config) Validate() error {
	var errs []error
	required := []struct {
		flag  string
		value string
	}{
		{"input_artifact", c.InputArtifact},
		{"output_artifact", c.OutputArtifact},
		{"output_type", c.OutputType},
		{"output_description", c.OutputDescription},
	}
	for _, r := range required {
		if strings.TrimSpace(r.value) == "" {
			errs = append(errs, fmt.Errorf("%s is required", r.flag))
		}
	}
	if math.IsNaN(c.MinPrice) {
		errs = append(errs, errors.New("min_price must be a number"))
	}
	if math.IsNaN(c.MaxPrice) {
		errs = append(errs, errors.New("max_price must be a number"))
	}
	return errors.Join(errs...)
}
