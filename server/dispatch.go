package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"

	"github.com/sandboxd/sandboxd/log"
	atrace "github.com/sandboxd/sandboxd/telemetry/trace"
	"github.com/sandboxd/sandboxd/tool"
	"github.com/sandboxd/sandboxd/workspace"
)

// executeResponse is the externally visible outcome of one job.
type executeResponse struct {
	SessionID     string             `json:"sessionId"`
	Tool          string             `json:"tool"`
	ID            string             `json:"id"`
	ExitCode      int                `json:"exitCode"`
	TimedOut      bool               `json:"timedOut,omitempty"`
	Artifacts     workspace.Manifest `json:"artifacts"`
	Stdout        string             `json:"stdout,omitempty"`
	StdoutTrimmed bool               `json:"stdoutTrimmed,omitempty"`
	Stderr        string             `json:"stderr,omitempty"`
	StderrTrimmed bool               `json:"stderrTrimmed,omitempty"`
}

// handleExecute is the dispatch boundary: validate the request shape,
// resolve the handler, create the job workspace, run the tool, and
// assemble the response. Validation failures happen before any
// workspace or container exists.
func (s *Server) handleExecute(w http.ResponseWriter, r *http.Request) {
	var req map[string]any
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, errorResponse{
			Error:  "invalid request body",
			Detail: err.Error(),
		})
		return
	}

	toolName, _ := req["tool"].(string)
	if toolName == "" {
		s.writeError(w, http.StatusBadRequest, errorResponse{
			Error: "missing required field \"tool\"",
		})
		return
	}
	sessionID, _ := req["sessionId"].(string)
	if sessionID == "" {
		s.writeError(w, http.StatusBadRequest, errorResponse{
			Error: "missing required field \"sessionId\"",
		})
		return
	}
	if err := workspace.ValidName(sessionID); err != nil {
		s.writeError(w, http.StatusBadRequest, errorResponse{
			Error:  "invalid session id",
			Detail: err.Error(),
		})
		return
	}

	handler, ok := s.registry.Get(toolName)
	if !ok {
		s.writeError(w, http.StatusBadRequest, errorResponse{
			Error: "unknown tool \"" + toolName + "\"",
			Tools: s.registry.Names(),
		})
		return
	}

	if err := handler.Metadata().Validate(req); err != nil {
		s.writeError(w, http.StatusBadRequest, errorResponse{
			Error:  "invalid arguments",
			Detail: err.Error(),
		})
		return
	}

	timeout := s.jobTimeout(req)
	jobID := uuid.New().String()[:8]

	ctx, span := atrace.Tracer.Start(r.Context(), atrace.SpanToolExecute)
	span.SetAttributes(
		attribute.String(atrace.AttrTool, toolName),
		attribute.String(atrace.AttrSessionID, sessionID),
		attribute.String(atrace.AttrJobID, jobID),
	)
	defer span.End()

	workDir, err := s.store.CreateWorkspace(ctx, sessionID, jobID)
	if err != nil {
		log.Errorf("create workspace for job %s: %v", jobID, err)
		s.writeError(w, http.StatusInternalServerError, errorResponse{
			Error:  "creating workspace failed",
			Detail: err.Error(),
		})
		return
	}

	ec := tool.ExecutionContext{
		SessionID:     sessionID,
		JobID:         jobID,
		WorkspacePath: workDir,
		Timeout:       timeout,
	}

	log.Infof("dispatching tool=%s session=%s job=%s timeout=%s",
		toolName, sessionID, jobID, timeout)

	// The pool caps how many containers run at once; Submit blocks
	// when the cap is reached, so bursts queue instead of stampeding
	// the container runtime.
	var (
		res     tool.Result
		execErr error
		done    = make(chan struct{})
	)
	if err := s.pool.Submit(func() {
		defer close(done)
		res, execErr = handler.Execute(ctx, req, ec)
	}); err != nil {
		s.writeError(w, http.StatusServiceUnavailable, errorResponse{
			Error:  "execution capacity exhausted",
			Detail: err.Error(),
		})
		return
	}
	<-done

	if execErr != nil {
		if errors.Is(execErr, tool.ErrInvalidArgument) {
			s.writeError(w, http.StatusBadRequest, errorResponse{
				Error:  "invalid arguments",
				Detail: execErr.Error(),
			})
			return
		}
		log.Errorf("tool %s job %s failed: %v", toolName, jobID, execErr)
		s.writeError(w, http.StatusInternalServerError, errorResponse{
			Error:  "execution failed",
			Detail: execErr.Error(),
		})
		return
	}

	manifest, err := s.buildManifest(r, sessionID, jobID, workDir, res.InputFiles)
	if err != nil {
		log.Errorf("manifest for job %s: %v", jobID, err)
		s.writeError(w, http.StatusInternalServerError, errorResponse{
			Error:  "listing artifacts failed",
			Detail: err.Error(),
		})
		return
	}

	resp := executeResponse{
		SessionID: sessionID,
		Tool:      toolName,
		ID:        jobID,
		ExitCode:  res.ExitCode,
		TimedOut:  res.TimedOut,
		Artifacts: manifest,
	}
	resp.Stdout, resp.StdoutTrimmed = s.trim(res.Stdout)
	resp.Stderr, resp.StderrTrimmed = s.trim(res.Stderr)

	s.writeJSON(w, http.StatusOK, resp)
}

// jobTimeout reads the declared timeout in seconds, clamped to the
// allowed range, defaulting when absent.
func (s *Server) jobTimeout(req map[string]any) time.Duration {
	v, ok := req["timeout"].(float64)
	if !ok {
		return s.defaultTimeout
	}
	sec := int(v)
	if sec < minTimeoutSec {
		sec = minTimeoutSec
	}
	if sec > maxTimeoutSec {
		sec = maxTimeoutSec
	}
	return time.Duration(sec) * time.Second
}

// buildManifest lists the workspace and partitions every file into
// inputs and outputs, each resolved to a download URL on this server.
func (s *Server) buildManifest(r *http.Request, sessionID, jobID, workDir string, inputs []string) (workspace.Manifest, error) {
	files, err := s.store.ListFiles(workDir)
	if err != nil {
		return workspace.Manifest{}, err
	}
	proto := requestProto(r)
	urlFor := func(name string) string {
		return workspace.ArtifactURL(proto, r.Host, sessionID, jobID, name)
	}
	return workspace.Categorize(files, inputs, urlFor), nil
}

// requestProto derives the scheme artifact URLs should use, honoring
// a reverse proxy's X-Forwarded-Proto.
func requestProto(r *http.Request) string {
	if p := r.Header.Get("X-Forwarded-Proto"); p != "" {
		return p
	}
	if r.TLS != nil {
		return "https"
	}
	return "http"
}

// trim bounds inline output at the configured ceiling. The full
// stream is always available as the stdout/stderr artifact.
func (s *Server) trim(out string) (string, bool) {
	if len(out) <= s.maxInlineBytes {
		return out, false
	}
	return out[:s.maxInlineBytes], true
}
