package convert

import (
	"context"
	"encoding/base64"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sandboxd/sandboxd/engine"
	"github.com/sandboxd/sandboxd/tool"
)

type stubRunner struct {
	spec   engine.RunSpec
	result engine.RunResult
	err    error
}

func (s *stubRunner) Run(_ context.Context, spec engine.RunSpec) (engine.RunResult, error) {
	s.spec = spec
	return s.result, s.err
}

type stubFiles struct {
	written map[string][]byte
}

func (s *stubFiles) WriteFile(dir, name string, data []byte) (string, error) {
	if s.written == nil {
		s.written = map[string][]byte{}
	}
	s.written[name] = data
	return dir + "/" + name, nil
}

func execCtx() tool.ExecutionContext {
	return tool.ExecutionContext{
		SessionID:     "sess",
		JobID:         "j2",
		WorkspacePath: "/ws/sess/job-j2",
		Timeout:       120 * time.Second,
	}
}

func TestExecute_DecodesAndDelegates(t *testing.T) {
	doc := []byte("<html><body>hello</body></html>")
	runner := &stubRunner{result: engine.RunResult{ExitCode: 0}}
	files := &stubFiles{}
	h := New(runner, files)

	res, err := h.Execute(context.Background(), map[string]any{
		"filename": "in.html",
		"content":  base64.StdEncoding.EncodeToString(doc),
		"script":   "pandoc in.html -o out.md",
	}, execCtx())
	require.NoError(t, err)

	assert.Equal(t, doc, files.written["in.html"])
	assert.Equal(t, []string{"sh", "-c", "pandoc in.html -o out.md"}, runner.spec.Cmd)
	assert.Equal(t, DefaultImage, runner.spec.Image)
	assert.Equal(t, engine.ConversionProfile(), runner.spec.Profile)
	assert.Equal(t, 120*time.Second, runner.spec.Timeout)
	assert.Equal(t, []string{"in.html"}, res.InputFiles)
}

func TestExecute_BinaryPayloadIntact(t *testing.T) {
	payload := make([]byte, 256)
	for i := range payload {
		payload[i] = byte(i)
	}
	files := &stubFiles{}
	h := New(&stubRunner{}, files)

	_, err := h.Execute(context.Background(), map[string]any{
		"filename": "doc.bin",
		"content":  base64.StdEncoding.EncodeToString(payload),
		"script":   "true",
	}, execCtx())
	require.NoError(t, err)
	assert.Equal(t, payload, files.written["doc.bin"])
}

func TestExecute_InvalidBase64(t *testing.T) {
	h := New(&stubRunner{}, &stubFiles{})
	_, err := h.Execute(context.Background(), map[string]any{
		"filename": "in.html",
		"content":  "not@@base64!!",
		"script":   "true",
	}, execCtx())
	require.Error(t, err)
	assert.ErrorIs(t, err, tool.ErrInvalidArgument)
}

func TestMetadata(t *testing.T) {
	h := New(&stubRunner{}, &stubFiles{}, WithImage("converter:v2"))
	assert.Equal(t, "converter:v2", h.image)
	assert.Equal(t, ToolName, h.Name())

	meta := h.Metadata()
	for _, p := range []string{"filename", "content", "script"} {
		require.Contains(t, meta.Parameters, p)
		assert.True(t, meta.Parameters[p].Required, "%s should be required", p)
	}
	require.NoError(t, meta.Validate(map[string]any{
		"filename": "a", "content": "aGk=", "script": "true",
	}))
	assert.Error(t, meta.Validate(map[string]any{"filename": "a"}))
}
