package code

import (
	"context"
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
		JobID:         "j1",
		WorkspacePath: "/ws/sess/job-j1",
		Timeout:       30 * time.Second,
	}
}

func TestExecute_Python(t *testing.T) {
	runner := &stubRunner{result: engine.RunResult{ExitCode: 0, Stdout: []byte("hi\n")}}
	files := &stubFiles{}
	h := New(runner, files)

	res, err := h.Execute(context.Background(), map[string]any{
		"language": "python",
		"code":     `print("hi")`,
		"filename": "a.py",
	}, execCtx())
	require.NoError(t, err)

	assert.Equal(t, []byte(`print("hi")`), files.written["a.py"])
	assert.Equal(t, []string{"python3", "a.py"}, runner.spec.Cmd)
	assert.Equal(t, DefaultImage, runner.spec.Image)
	assert.Equal(t, "/ws/sess/job-j1", runner.spec.WorkspacePath)
	assert.Equal(t, 30*time.Second, runner.spec.Timeout)
	assert.Equal(t, engine.DefaultProfile(), runner.spec.Profile)

	assert.Equal(t, 0, res.ExitCode)
	assert.Equal(t, []string{"a.py"}, res.InputFiles)
	assert.Equal(t, "hi\n", res.Stdout)
}

func TestExecute_DefaultFilenamePerLanguage(t *testing.T) {
	tests := []struct {
		language string
		wantFile string
		wantCmd  string
	}{
		{"python", "main.py", "python3"},
		{"javascript", "main.js", "node"},
		{"bash", "main.sh", "bash"},
		{"sh", "main.sh", "sh"},
		{"Python", "main.py", "python3"}, // case-insensitive
	}
	for _, tt := range tests {
		t.Run(tt.language, func(t *testing.T) {
			runner := &stubRunner{}
			files := &stubFiles{}
			h := New(runner, files)

			res, err := h.Execute(context.Background(), map[string]any{
				"language": tt.language,
				"code":     "x",
			}, execCtx())
			require.NoError(t, err)
			assert.Contains(t, files.written, tt.wantFile)
			assert.Equal(t, []string{tt.wantCmd, tt.wantFile}, runner.spec.Cmd)
			assert.Equal(t, []string{tt.wantFile}, res.InputFiles)
		})
	}
}

func TestExecute_UnsupportedLanguage(t *testing.T) {
	h := New(&stubRunner{}, &stubFiles{})
	_, err := h.Execute(context.Background(), map[string]any{
		"language": "cobol",
		"code":     "x",
	}, execCtx())
	require.Error(t, err)
	assert.ErrorIs(t, err, tool.ErrInvalidArgument)
}

func TestExecute_NonZeroExitPassedThrough(t *testing.T) {
	runner := &stubRunner{result: engine.RunResult{ExitCode: 7, Stderr: []byte("bad")}}
	h := New(runner, &stubFiles{})

	res, err := h.Execute(context.Background(), map[string]any{
		"language": "bash",
		"code":     "exit 7",
	}, execCtx())
	require.NoError(t, err)
	assert.Equal(t, 7, res.ExitCode)
	assert.Equal(t, "bad", res.Stderr)
}

func TestMetadata(t *testing.T) {
	h := New(&stubRunner{}, &stubFiles{}, WithImage("custom:img"))
	assert.Equal(t, "custom:img", h.image)
	assert.Equal(t, ToolName, h.Name())

	meta := h.Metadata()
	assert.NotEmpty(t, meta.Description)
	require.Contains(t, meta.Parameters, "language")
	assert.True(t, meta.Parameters["language"].Required)
	assert.Equal(t, []string{"bash", "javascript", "python", "sh"},
		meta.Parameters["language"].Enum)
	assert.True(t, meta.Parameters["code"].Required)
	assert.False(t, meta.Parameters["filename"].Required)

	// Metadata validation and the interpreter table agree.
	require.NoError(t, meta.Validate(map[string]any{"language": "python", "code": "x"}))
	assert.Error(t, meta.Validate(map[string]any{"language": "cobol", "code": "x"}))
}
