package server

import (
	"io"
	"net/http"
	"os"

	"github.com/gorilla/mux"

	"github.com/sandboxd/sandboxd/log"
	"github.com/sandboxd/sandboxd/workspace"
)

const sniffLen = 512

// handleDownloadArtifact serves the raw bytes of one workspace file.
// The route is the inverse of workspace.ArtifactURL: the same three
// identifiers resolve to the same physical path.
func (s *Server) handleDownloadArtifact(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	path, err := s.store.ArtifactPath(vars["sessionId"], vars["jobId"], vars["filename"])
	if err != nil {
		s.writeError(w, http.StatusBadRequest, errorResponse{
			Error:  "invalid artifact path",
			Detail: err.Error(),
		})
		return
	}

	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			s.writeError(w, http.StatusNotFound, errorResponse{
				Error: "artifact not found",
			})
			return
		}
		log.Errorf("open artifact %s: %v", path, err)
		s.writeError(w, http.StatusInternalServerError, errorResponse{
			Error: "reading artifact failed",
		})
		return
	}
	defer f.Close()

	head := make([]byte, sniffLen)
	n, _ := io.ReadFull(f, head)
	w.Header().Set("Content-Type", workspace.ContentType(vars["filename"], head[:n]))
	_, _ = w.Write(head[:n])
	if _, err := io.Copy(w, f); err != nil {
		log.Warnf("stream artifact %s: %v", path, err)
	}
}
