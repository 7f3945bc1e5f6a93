// Package code implements the code-execution tool: it writes the
// supplied source to a file in the job workspace and runs the
// interpreter for the declared language inside the sandbox container.
package code

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/sandboxd/sandboxd/engine"
	"github.com/sandboxd/sandboxd/tool"
)

// ToolName identifies this handler in the registry.
const ToolName = "execute_code"

// DefaultImage runs the interpreter table below; every listed
// interpreter must exist in the image.
const DefaultImage = "python:3.12-slim"

// languageSpec fixes the interpreter and default file extension for
// one supported language.
type languageSpec struct {
	cmd []string
	ext string
}

// The closed interpreter-per-language table. A language missing here
// is a validation error, never an arbitrary command.
var languages = map[string]languageSpec{
	"python":     {cmd: []string{"python3"}, ext: ".py"},
	"javascript": {cmd: []string{"node"}, ext: ".js"},
	"bash":       {cmd: []string{"bash"}, ext: ".sh"},
	"sh":         {cmd: []string{"sh"}, ext: ".sh"},
}

// Handler executes code snippets in the sandbox.
type Handler struct {
	runner tool.Runner
	files  tool.FileWriter
	image  string
}

// Option configures a Handler.
type Option func(*Handler)

// WithImage overrides the container image.
func WithImage(image string) Option {
	return func(h *Handler) {
		if image != "" {
			h.image = image
		}
	}
}

// New builds the code-execution handler.
func New(runner tool.Runner, files tool.FileWriter, opts ...Option) *Handler {
	h := &Handler{runner: runner, files: files, image: DefaultImage}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Name implements tool.Handler.
func (h *Handler) Name() string { return ToolName }

// Metadata implements tool.Handler.
func (h *Handler) Metadata() tool.Metadata {
	langs := make([]string, 0, len(languages))
	for l := range languages {
		langs = append(langs, l)
	}
	sort.Strings(langs)
	return tool.Metadata{
		Description: "Execute a code snippet in an isolated container and " +
			"collect its output files.",
		Parameters: map[string]tool.Param{
			"language": {
				Type:        "string",
				Description: "Language the snippet is written in.",
				Required:    true,
				Enum:        langs,
			},
			"code": {
				Type:        "string",
				Description: "Source text to execute.",
				Required:    true,
			},
			"filename": {
				Type:        "string",
				Description: "Name for the source file inside the workspace.",
			},
		},
	}
}

// Execute implements tool.Handler: write the source file, mark it the
// sole input, run the language's interpreter against it.
func (h *Handler) Execute(ctx context.Context, args map[string]any, ec tool.ExecutionContext) (tool.Result, error) {
	lang, _ := args["language"].(string)
	spec, ok := languages[strings.ToLower(strings.TrimSpace(lang))]
	if !ok {
		return tool.Result{}, fmt.Errorf("%w: unsupported language %q", tool.ErrInvalidArgument, lang)
	}
	source, _ := args["code"].(string)

	filename, _ := args["filename"].(string)
	if filename == "" {
		filename = "main" + spec.ext
	}
	if _, err := h.files.WriteFile(ec.WorkspacePath, filename, []byte(source)); err != nil {
		return tool.Result{}, fmt.Errorf("stage source file: %w", err)
	}

	res, err := h.runner.Run(ctx, engine.RunSpec{
		Image:         h.image,
		Cmd:           append(append([]string{}, spec.cmd...), filename),
		WorkspacePath: ec.WorkspacePath,
		Profile:       engine.DefaultProfile(),
		Timeout:       ec.Timeout,
	})
	if err != nil {
		return tool.Result{}, err
	}
	return tool.Result{
		ExitCode:   res.ExitCode,
		InputFiles: []string{filename},
		Stdout:     string(res.Stdout),
		Stderr:     string(res.Stderr),
		TimedOut:   res.TimedOut,
	}, nil
}
