// Package workspace owns the on-disk layout of job workspaces: one
// directory per job under <root>/<sessionID>/job-<jobID>, holding the
// input files staged before execution and everything the container
// produced. The store is the only component that touches this tree;
// the container engine sees it solely through a bind mount.
package workspace

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"go.opentelemetry.io/otel/attribute"

	"github.com/sandboxd/sandboxd/telemetry/trace"
)

const jobDirPrefix = "job-"

// Store creates and addresses per-job workspace directories.
type Store struct {
	root string

	// Owner reconciliation for deployments where the supervisor runs
	// privileged but the storage root belongs to an unprivileged user.
	// Disabled when uid < 0.
	uid, gid int
}

// Option configures a Store.
type Option func(*Store)

// WithOwner makes the store chown every directory and file it creates
// to uid:gid. Needed when the supervisor runs as root against a
// storage root owned by the user the container writes back as;
// without it the container cannot produce output files.
func WithOwner(uid, gid int) Option {
	return func(s *Store) {
		s.uid = uid
		s.gid = gid
	}
}

// NewStore returns a store rooted at root. The root itself is created
// lazily by the first CreateWorkspace call.
func NewStore(root string, opts ...Option) *Store {
	s := &Store{root: root, uid: -1, gid: -1}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Root returns the storage root path.
func (s *Store) Root() string { return s.root }

// CreateWorkspace creates <root>/<sessionID>/job-<jobID> and returns
// its path. Existing parents are fine; recreating the job directory
// is not an error. The job directory is world-writable so that a
// non-root container user can write output files into the bind mount.
func (s *Store) CreateWorkspace(ctx context.Context, sessionID, jobID string) (string, error) {
	if err := ValidName(sessionID); err != nil {
		return "", fmt.Errorf("session id: %w", err)
	}
	if err := ValidName(jobID); err != nil {
		return "", fmt.Errorf("job id: %w", err)
	}
	_, span := trace.Tracer.Start(ctx, trace.SpanWorkspaceCreate)
	span.SetAttributes(
		attribute.String(trace.AttrSessionID, sessionID),
		attribute.String(trace.AttrJobID, jobID),
	)
	defer span.End()

	dir := filepath.Join(s.root, sessionID, jobDirPrefix+jobID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create workspace: %w", err)
	}
	// MkdirAll applies the umask; the container user still needs
	// write access through the bind mount.
	if err := os.Chmod(dir, 0o777); err != nil {
		return "", fmt.Errorf("open workspace permissions: %w", err)
	}
	if err := s.reconcileOwner(filepath.Join(s.root, sessionID)); err != nil {
		return "", err
	}
	if err := s.reconcileOwner(dir); err != nil {
		return "", err
	}
	return dir, nil
}

// WriteFile writes data to <dir>/<name>, overwriting any previous
// content byte for byte. Binary payloads pass through untouched.
func (s *Store) WriteFile(dir, name string, data []byte) (string, error) {
	if err := ValidName(name); err != nil {
		return "", fmt.Errorf("filename: %w", err)
	}
	p := filepath.Join(dir, name)
	if err := os.WriteFile(p, data, 0o644); err != nil {
		return "", fmt.Errorf("write %s: %w", name, err)
	}
	if err := s.reconcileOwner(p); err != nil {
		return "", err
	}
	return p, nil
}

// ReadFile reads <dir>/<name> back.
func (s *Store) ReadFile(dir, name string) ([]byte, error) {
	if err := ValidName(name); err != nil {
		return nil, fmt.Errorf("filename: %w", err)
	}
	return os.ReadFile(filepath.Join(dir, name))
}

// ListFiles returns the sorted regular-file names in dir. A missing
// directory yields an empty list, not an error: a job that failed
// before producing anything still gets a well-formed manifest.
func (s *Store) ListFiles(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("list workspace: %w", err)
	}
	var names []string
	for _, e := range entries {
		if e.Type().IsRegular() {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)
	return names, nil
}

// ArtifactPath resolves the physical path of one artifact. It is the
// inverse of ArtifactURL: the same three identifiers address the same
// file. Every element is validated so request paths cannot escape
// the storage root.
func (s *Store) ArtifactPath(sessionID, jobID, filename string) (string, error) {
	for _, part := range []string{sessionID, jobID, filename} {
		if err := ValidName(part); err != nil {
			return "", err
		}
	}
	return filepath.Join(s.root, sessionID, jobDirPrefix+jobID, filename), nil
}

// ValidName rejects path elements that are empty, contain separators,
// or could traverse out of the workspace tree.
func ValidName(name string) error {
	if name == "" {
		return fmt.Errorf("empty name")
	}
	if strings.ContainsAny(name, "/\\") || name == "." || name == ".." {
		return fmt.Errorf("invalid name %q", name)
	}
	return nil
}

// ArtifactURL builds the download URL for one artifact. Deterministic
// and reversible: the server's artifact route parses these same three
// elements back out.
func ArtifactURL(proto, host, sessionID, jobID, filename string) string {
	return fmt.Sprintf("%s://%s/artifacts/%s/%s/%s",
		proto, host, sessionID, jobID, filename)
}
