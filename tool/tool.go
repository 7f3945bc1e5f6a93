// Package tool defines the contract every sandboxed tool implements
// and the registry the dispatcher resolves tools through. A tool's
// job is exactly three steps: write its input files into the job
// workspace, derive the container command, and delegate to the
// execution engine. New tools register a new Handler; the engine and
// dispatcher never change.
package tool

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sandboxd/sandboxd/engine"
)

// ErrInvalidArgument marks request-shape violations so the server can
// map them to a 400 without string matching.
var ErrInvalidArgument = errors.New("invalid argument")

// Param describes one declared tool parameter.
type Param struct {
	Type        string   `json:"type"`
	Description string   `json:"description"`
	Required    bool     `json:"required"`
	Enum        []string `json:"enum,omitempty"`
}

// Metadata is the published description of a tool: what it does and
// the shape of the arguments it accepts.
type Metadata struct {
	Description string           `json:"description"`
	Parameters  map[string]Param `json:"parameters"`
}

// Validate checks args against the declared parameter shape: required
// parameters present, JSON types matching, enum membership honored.
// Unknown extra fields are tolerated; handlers read only their own.
func (m Metadata) Validate(args map[string]any) error {
	for name, p := range m.Parameters {
		v, ok := args[name]
		if !ok || v == nil {
			if p.Required {
				return fmt.Errorf("%w: missing required parameter %q", ErrInvalidArgument, name)
			}
			continue
		}
		if err := checkType(name, p, v); err != nil {
			return err
		}
	}
	return nil
}

func checkType(name string, p Param, v any) error {
	switch p.Type {
	case "string":
		s, ok := v.(string)
		if !ok {
			return fmt.Errorf("%w: parameter %q must be a string", ErrInvalidArgument, name)
		}
		if len(p.Enum) > 0 {
			for _, allowed := range p.Enum {
				if s == allowed {
					return nil
				}
			}
			return fmt.Errorf("%w: parameter %q must be one of %v", ErrInvalidArgument, name, p.Enum)
		}
	case "number":
		// encoding/json decodes every JSON number to float64.
		if _, ok := v.(float64); !ok {
			return fmt.Errorf("%w: parameter %q must be a number", ErrInvalidArgument, name)
		}
	case "boolean":
		if _, ok := v.(bool); !ok {
			return fmt.Errorf("%w: parameter %q must be a boolean", ErrInvalidArgument, name)
		}
	}
	return nil
}

// ExecutionContext carries the per-job values a handler needs:
// identity, workspace, and time budget.
type ExecutionContext struct {
	SessionID     string
	JobID         string
	WorkspacePath string
	Timeout       time.Duration
}

// Result is what a handler reports back to the dispatcher. InputFiles
// names the files the handler staged before execution so the
// categorizer can keep them out of the outputs.
type Result struct {
	ExitCode   int
	InputFiles []string
	Stdout     string
	Stderr     string
	TimedOut   bool
}

// Runner is the slice of the execution engine handlers depend on.
type Runner interface {
	Run(ctx context.Context, spec engine.RunSpec) (engine.RunResult, error)
}

// FileWriter is the slice of the workspace store handlers depend on.
type FileWriter interface {
	WriteFile(dir, name string, data []byte) (string, error)
}

// Handler is the capability set of one tool kind.
type Handler interface {
	// Name returns the tool-type identifier used for dispatch.
	Name() string
	// Metadata returns the published description and parameter shape.
	Metadata() Metadata
	// Execute runs the tool inside the job workspace. Args have
	// already passed Metadata validation.
	Execute(ctx context.Context, args map[string]any, ec ExecutionContext) (Result, error)
}
