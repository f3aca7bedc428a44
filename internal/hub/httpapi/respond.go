package httpapi

import (
	"net/http"
	"time"

	hberrors "github.com/dungeonforge/messagehub/internal/hub/errors"
	"github.com/dungeonforge/messagehub/internal/hub/jsoncodec"
)

// errorBody is the wire shape of every failed request:
// {"error":{"code","message","details":{"request_id","timestamp"}}}.
type errorBody struct {
	Error errorDetail `json:"error"`
}

type errorDetail struct {
	Code    hberrors.Code `json:"code"`
	Message string        `json:"message"`
	Details errorMeta     `json:"details"`
}

type errorMeta struct {
	RequestID string    `json:"request_id,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

var statusByCode = map[hberrors.Code]int{
	hberrors.CodeInvalidMessage:      http.StatusBadRequest,
	hberrors.CodeInvalidSubscription: http.StatusBadRequest,
	hberrors.CodeInvalidRegistration: http.StatusBadRequest,
	hberrors.CodeServiceUnavailable:  http.StatusBadGateway,
	hberrors.CodeCircuitOpen:         http.StatusServiceUnavailable,
	hberrors.CodeDeliveryFailed:      http.StatusBadGateway,
	hberrors.CodeAuthFailed:          http.StatusUnauthorized,
	hberrors.CodeRateLimited:         http.StatusTooManyRequests,
	hberrors.CodeNotFound:            http.StatusNotFound,
	hberrors.CodeInternal:            http.StatusInternalServerError,
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = jsoncodec.Encode(w, v)
}

func writeError(w http.ResponseWriter, r *http.Request, err error) {
	apiErr := hberrors.NewAPIError(err, requestID(r.Context()), time.Now())
	status, ok := statusByCode[apiErr.Code]
	if !ok {
		status = http.StatusInternalServerError
	}
	writeJSON(w, status, errorBody{Error: errorDetail{
		Code:    apiErr.Code,
		Message: apiErr.Message,
		Details: errorMeta{RequestID: apiErr.RequestID, Timestamp: apiErr.Timestamp},
	}})
}
