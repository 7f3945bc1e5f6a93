// Package convert implements the document-conversion tool. The caller
// supplies the document as base64 plus the exact shell pipeline to run
// over it; this handler's only job is staging the input and sandboxing
// the pipeline. Conversion tooling lives in the container image, never
// in the supervisor.
package convert

import (
	"context"
	"encoding/base64"
	"fmt"

	"github.com/sandboxd/sandboxd/engine"
	"github.com/sandboxd/sandboxd/tool"
)

// ToolName identifies this handler in the registry.
const ToolName = "convert_document"

// DefaultImage ships pandoc plus a TeX toolchain, covering the common
// markdown/HTML/PDF pipelines.
const DefaultImage = "pandoc/extra:latest"

// Handler runs caller-supplied conversion pipelines in the sandbox.
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

// New builds the document-conversion handler.
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
	return tool.Metadata{
		Description: "Convert a document by running a caller-supplied " +
			"shell pipeline over it in an isolated container.",
		Parameters: map[string]tool.Param{
			"filename": {
				Type:        "string",
				Description: "Name for the input file inside the workspace.",
				Required:    true,
			},
			"content": {
				Type:        "string",
				Description: "Base64-encoded document content.",
				Required:    true,
			},
			"script": {
				Type:        "string",
				Description: "Shell pipeline executed in the workspace, e.g. " +
					`"pandoc in.html -o out.md".`,
				Required: true,
			},
		},
	}
}

// Execute implements tool.Handler: decode the payload, stage it as the
// sole input, run the pipeline via the shell.
func (h *Handler) Execute(ctx context.Context, args map[string]any, ec tool.ExecutionContext) (tool.Result, error) {
	filename, _ := args["filename"].(string)
	encoded, _ := args["content"].(string)
	script, _ := args["script"].(string)

	payload, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return tool.Result{}, fmt.Errorf("%w: content is not valid base64: %v", tool.ErrInvalidArgument, err)
	}
	if _, err := h.files.WriteFile(ec.WorkspacePath, filename, payload); err != nil {
		return tool.Result{}, fmt.Errorf("stage input document: %w", err)
	}

	res, err := h.runner.Run(ctx, engine.RunSpec{
		Image:         h.image,
		Cmd:           []string{"sh", "-c", script},
		WorkspacePath: ec.WorkspacePath,
		Profile:       engine.ConversionProfile(),
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
