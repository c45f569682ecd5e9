package server

import (
	"net/http"

	"github.com/snapmagictest/snapmagic/internal/storage"
)

// handleBlobGet serves dev-mode signed reads for the local-disk FileBlobStore.
// It is unreachable when the configured backend is S3: PresignGet there
// returns a real object-store URL the client fetches directly, so blobStore
// never type-asserts to *storage.FileBlobStore in that configuration.
func (s *Server) handleBlobGet(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodGet) {
		return
	}

	fb, ok := s.blobStore.(*storage.FileBlobStore)
	if !ok {
		WriteError(w, http.StatusNotFound, "blob delivery not available for this storage backend")
		return
	}

	key := PathParam(r, "/blobs/", "")
	if key == "" {
		WriteError(w, http.StatusBadRequest, "blob key is required in path")
		return
	}

	exp := r.URL.Query().Get("exp")
	sig := r.URL.Query().Get("sig")
	if !fb.VerifySignature(key, exp, sig) {
		WriteError(w, http.StatusForbidden, "invalid or expired signature")
		return
	}

	data, contentType, err := fb.Get(r.Context(), key)
	if err != nil {
		if err == storage.ErrBlobNotFound {
			WriteError(w, http.StatusNotFound, "blob not found")
			return
		}
		WriteError(w, http.StatusInternalServerError, "failed to read blob")
		return
	}

	if contentType != "" {
		w.Header().Set("Content-Type", contentType)
	}
	w.WriteHeader(http.StatusOK)
	w.Write(data)
}
