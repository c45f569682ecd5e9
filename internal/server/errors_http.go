package server

import (
	"net/http"

	"github.com/snapmagictest/snapmagic/internal/pipeline/errs"
)

// WriteAPIError maps a pipeline error to an HTTP status via its tagged Kind,
// falling back to 500 for untagged errors.
func WriteAPIError(w http.ResponseWriter, err error) {
	tagged, ok := errs.As(err)
	if !ok {
		WriteError(w, http.StatusInternalServerError, err.Error())
		return
	}

	status := http.StatusInternalServerError
	switch tagged.Kind {
	case errs.KindInvalidInput:
		status = http.StatusBadRequest
	case errs.KindUnauthenticated, errs.KindTokenExpired:
		status = http.StatusUnauthorized
	case errs.KindQuotaExceeded, errs.KindThrottled:
		status = http.StatusTooManyRequests
	case errs.KindPolicyBlocked:
		status = http.StatusUnprocessableEntity
	case errs.KindEnqueueFailed, errs.KindBackendUnavailable:
		status = http.StatusServiceUnavailable
	case errs.KindDeadLettered, errs.KindInternal:
		status = http.StatusInternalServerError
	}
	WriteErrorWithCode(w, status, tagged.Msg, string(tagged.Kind))
}
