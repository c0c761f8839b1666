package api

import (
	"errors"
	"log/slog"
	"net/http"

	errorvalues "github.com/limbo/stakepool/internal/error_values"
	"github.com/limbo/stakepool/pkg/httputil"
)

type errorStatus struct {
	err     error
	code    int
	message string
}

// Checked in order: the first match decides the response.
var errorStatuses = []errorStatus{
	{errorvalues.ErrValidation, http.StatusBadRequest, "invalid request"},
	{errorvalues.ErrPoolNotFound, http.StatusNotFound, "pool doesn't exist"},
	{errorvalues.ErrParticipantNotFound, http.StatusNotFound, "not a participant of this pool"},
	{errorvalues.ErrProofNotFound, http.StatusNotFound, "proof doesn't exist"},
	{errorvalues.ErrProfileNotFound, http.StatusNotFound, "profile doesn't exist"},
	{errorvalues.ErrEntryNotFound, http.StatusNotFound, "stake doesn't exist"},
	{errorvalues.ErrAlreadyJoined, http.StatusConflict, "already joined this pool"},
	{errorvalues.ErrDuplicateStake, http.StatusConflict, "stake already confirmed"},
	{errorvalues.ErrDuplicateSubmission, http.StatusConflict, "proof for this period already accepted"},
	{errorvalues.ErrProofAlreadyResolved, http.StatusConflict, "proof already resolved"},
	{errorvalues.ErrAlreadySettled, http.StatusConflict, "already settled"},
	{errorvalues.ErrInvalidTransition, http.StatusConflict, "pool status doesn't allow this operation"},
	{errorvalues.ErrLockHeld, http.StatusConflict, "pool is busy, retry later"},
	{errorvalues.ErrWindowClosed, http.StatusUnprocessableEntity, "proof submission window is closed"},
	{errorvalues.ErrPoolNotJoinable, http.StatusUnprocessableEntity, "pool doesn't accept participants"},
	{errorvalues.ErrParticipantForfeited, http.StatusUnprocessableEntity, "participant has forfeited"},
	{errorvalues.ErrStakeNotConfirmed, http.StatusUnprocessableEntity, "stake transfer is not confirmed"},
	{errorvalues.ErrForbidden, http.StatusForbidden, "operation not allowed"},
}

func statusOf(err error) (int, string) {
	for _, es := range errorStatuses {
		if errors.Is(err, es.err) {
			return es.code, es.message
		}
	}
	return http.StatusInternalServerError, "internal error"
}

// writeServiceError logs err under op and answers with its mapped status.
// Details of internal errors never reach the client.
func writeServiceError(w http.ResponseWriter, logger *slog.Logger, op string, err error) {
	code, message := statusOf(err)
	if code == http.StatusInternalServerError {
		logger.Error(op+" error: service error", slog.String("error", err.Error()))
		httputil.WriteErrorResponse(w, code, message, nil)
		return
	}
	logger.Warn(op+" error", slog.Int("code", code), slog.String("error", err.Error()))
	httputil.WriteErrorResponse(w, code, message, err)
}
