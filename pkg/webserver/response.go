package webserver

import (
	"encoding/json"
	"net/http"

	"github.com/pkg/errors"

	"f1telemetryhub/pkg/model"
)

// StatusFor maps the engine error taxonomy onto HTTP status codes.
func StatusFor(err error) int {
	var unknown *model.UnknownSessionError
	switch {
	case err == nil:
		return http.StatusOK
	case model.IsMalformedSample(err):
		return http.StatusBadRequest
	case errors.As(err, &unknown):
		if unknown.Ended {
			return http.StatusConflict
		}
		return http.StatusNotFound
	case model.IsPersistence(err):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

type errorBody struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func WriteError(w http.ResponseWriter, err error) {
	WriteJSON(w, StatusFor(err), errorBody{Kind: model.ErrorKind(err), Message: err.Error()})
}

// BadRequest reports a malformed request that never reached the engine.
func BadRequest(w http.ResponseWriter, msg string) {
	WriteJSON(w, http.StatusBadRequest, errorBody{Kind: "malformed", Message: msg})
}
