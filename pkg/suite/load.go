package suite

import (
	"bytes"
	"fmt"
	"io"
	"time"

	"github.com/spf13/afero"
	"gopkg.in/yaml.v3"
)

// rawSuite mirrors the suite file layout.
type rawSuite struct {
	Name       string                `yaml:"name"`
	Scheduling rawScheduling         `yaml:"scheduling"`
	Runtime    map[string]rawRuntime `yaml:"runtime"`
}

type rawScheduling struct {
	InitialPoint   scalar              `yaml:"initial cycle point"`
	FinalPoint     scalar              `yaml:"final cycle point"`
	RunaheadLimit  *int                `yaml:"runahead limit"`
	CustomRunahead scalar              `yaml:"custom runahead"`
	HoldAfterPoint scalar              `yaml:"hold after point"`
	CycleEpoch     scalar              `yaml:"cycle epoch"`
	CycleDuration  duration            `yaml:"cycle duration"`
	Queues         map[string]rawQueue `yaml:"queues"`
	Sequential     []string            `yaml:"sequential"`
	Graph          map[string]string   `yaml:"graph"`
}

type rawQueue struct {
	Limit   int      `yaml:"limit"`
	Members []string `yaml:"members"`
}

type rawRuntime struct {
	Script            string     `yaml:"script"`
	ExpirationOffset  scalar     `yaml:"expiration offset"`
	RetryDelays       []duration `yaml:"retry delays"`
	SubmitRetryDelays []duration `yaml:"submit retry delays"`
	SubmissionTimeout duration   `yaml:"submission timeout"`
	ExecutionTimeout  duration   `yaml:"execution timeout"`
	EventHandlers     []string   `yaml:"event handlers"`
	Outputs           []string   `yaml:"outputs"`
}

// scalar accepts any YAML scalar as its literal text, so that points can
// be written either as 10 or "+P10".
type scalar string

func (s *scalar) UnmarshalYAML(n *yaml.Node) error {
	if n.Kind != yaml.ScalarNode {
		return fmt.Errorf("line %d: expected a scalar", n.Line)
	}
	*s = scalar(n.Value)
	return nil
}

type duration time.Duration

func (d *duration) UnmarshalYAML(n *yaml.Node) error {
	if n.Kind != yaml.ScalarNode {
		return fmt.Errorf("line %d: expected a duration", n.Line)
	}
	v, err := time.ParseDuration(n.Value)
	if err != nil {
		return fmt.Errorf("line %d: %w", n.Line, err)
	}
	*d = duration(v)
	return nil
}

func durations(in []duration) []time.Duration {
	if len(in) == 0 {
		return nil
	}
	out := make([]time.Duration, len(in))
	for i, d := range in {
		out[i] = time.Duration(d)
	}
	return out
}

// Parse decodes and validates a suite definition.
func Parse(data []byte) (*Config, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, fmt.Errorf("suite: definition is empty")
	}
	var raw rawSuite
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("suite: decode: %w", err)
	}
	cfg, err := build(raw)
	if err != nil {
		return nil, fmt.Errorf("suite: %w", err)
	}
	return cfg, nil
}

// LoadReader reads a suite definition from r.
func LoadReader(r io.Reader) (*Config, error) {
	content, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("suite: read: %w", err)
	}
	return Parse(content)
}

// LoadFile loads a suite definition from path on fs.
func LoadFile(fs afero.Fs, path string) (*Config, error) {
	content, err := afero.ReadFile(fs, path)
	if err != nil {
		return nil, fmt.Errorf("suite: read %s: %w", path, err)
	}
	cfg, err := Parse(content)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}
