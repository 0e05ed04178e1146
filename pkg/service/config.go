package service

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/jakke/taskqueue/pkg/processor"
)

// Arguments are the recognized processor arguments. Zero values mean "use
// the processor default".
type Arguments struct {
	WaitTime           time.Duration `json:"wait_time,omitempty"`
	MaxThreads         int           `json:"max_threads,omitempty"`
	ThreadStartupWait  time.Duration `json:"thread_startup_wait,omitempty"`
	ConflictRetryLimit int           `json:"conflict_retry_limit,omitempty"`
}

// Options converts the arguments into processor options, skipping unset
// fields so processor defaults apply.
func (a Arguments) Options() []processor.Option {
	var opts []processor.Option
	if a.WaitTime > 0 {
		opts = append(opts, processor.WaitTime(a.WaitTime))
	}
	if a.MaxThreads > 0 {
		opts = append(opts, processor.MaxThreads(a.MaxThreads))
	}
	if a.ThreadStartupWait > 0 {
		opts = append(opts, processor.ThreadStartupWait(a.ThreadStartupWait))
	}
	if a.ConflictRetryLimit > 0 {
		opts = append(opts, processor.ConflictRetryLimit(a.ConflictRetryLimit))
	}
	return opts
}

// FileConfig is the YAML shape of a processor configuration file. Durations
// are Go duration strings ("1s", "50ms").
type FileConfig struct {
	Processor          string `yaml:"processor"`
	WaitTime           string `yaml:"wait_time"`
	MaxThreads         int    `yaml:"max_threads"`
	ThreadStartupWait  string `yaml:"thread_startup_wait"`
	ConflictRetryLimit int    `yaml:"conflict_retry_limit"`
}

// ParseConfig parses YAML content into a processor kind and arguments.
func ParseConfig(data []byte) (Kind, Arguments, error) {
	var fc FileConfig
	if err := yaml.Unmarshal(data, &fc); err != nil {
		return "", Arguments{}, fmt.Errorf("taskqueue: failed to parse config: %w", err)
	}

	kind := KindMulti
	switch fc.Processor {
	case "", string(KindMulti):
	case string(KindSimple):
		kind = KindSimple
	default:
		return "", Arguments{}, fmt.Errorf("%w: %s", ErrUnknownProcessor, fc.Processor)
	}

	args := Arguments{
		MaxThreads:         fc.MaxThreads,
		ConflictRetryLimit: fc.ConflictRetryLimit,
	}
	if fc.WaitTime != "" {
		d, err := time.ParseDuration(fc.WaitTime)
		if err != nil {
			return "", Arguments{}, fmt.Errorf("taskqueue: invalid wait_time: %w", err)
		}
		args.WaitTime = d
	}
	if fc.ThreadStartupWait != "" {
		d, err := time.ParseDuration(fc.ThreadStartupWait)
		if err != nil {
			return "", Arguments{}, fmt.Errorf("taskqueue: invalid thread_startup_wait: %w", err)
		}
		args.ThreadStartupWait = d
	}
	return kind, args, nil
}

// LoadConfig reads a YAML configuration file from disk.
func LoadConfig(path string) (Kind, Arguments, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", Arguments{}, err
	}
	return ParseConfig(data)
}
