package httpserver

import (
	"encoding/json"
	"errors"
	"net/http"

	apperrors "github.com/openbridge/dex-middleware/pkg/app/errors"
)

// HandlerFunc is an http.HandlerFunc that may return an error instead
// of writing its own failure response.
type HandlerFunc func(http.ResponseWriter, *http.Request) error

// HandleError adapts a HandlerFunc for any router, routing a returned
// error through DefaultErrorHandler:
//
//	r.Post("/offers", httpserver.HandleError(handler.createOffer))
func HandleError(h HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := h(w, r); err != nil {
			DefaultErrorHandler(w, err)
		}
	}
}

// DefaultErrorHandler writes the JSON error body. A ServiceError in
// the chain picks the status and client message; anything else is
// masked as a 500.
func DefaultErrorHandler(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	message := "Unexpected Service Error"

	var svcErr *apperrors.ServiceError
	if errors.As(err, &svcErr) {
		status = svcErr.StatusCode()
		message = svcErr.Message
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(struct {
		ErrMsg     string `json:"error"`
		ErrMsgCode int    `json:"code"`
	}{ErrMsg: message, ErrMsgCode: status})
}
