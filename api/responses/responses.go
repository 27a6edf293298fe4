package responses

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	zlog "github.com/rs/zerolog/log"

	pkgerrors "github.com/farmlink/farmlink-backend/pkg/errors"
	"github.com/farmlink/farmlink-backend/pkg/logger"
	"github.com/farmlink/farmlink-backend/pkg/types"
)

var errUnknown = errors.New("unknown error")

func WriteSuccess(w http.ResponseWriter, data any) {
	WriteSuccessStatus(w, http.StatusOK, data)
}

func WriteSuccessStatus(w http.ResponseWriter, status int, data any) {
	WriteJSON(w, status, types.SuccessEnvelope{Success: true, Data: data})
}

// WriteAck writes a bare {"success":true}.
func WriteAck(w http.ResponseWriter, status int) {
	WriteJSON(w, status, types.SuccessEnvelope{Success: true})
}

// WriteError renders err as an ErrorEnvelope. Untyped errors become
// CodeInternal so their text never reaches the client. 5xx responses log at
// error with the full chain; the rest log at warn.
func WriteError(ctx context.Context, logg *logger.Logger, w http.ResponseWriter, err error) {
	if err == nil {
		err = errUnknown
	}
	typed := pkgerrors.As(err)
	if typed == nil {
		typed = pkgerrors.Wrap(pkgerrors.CodeInternal, err, "unexpected error")
	}
	status := typed.HTTPStatus()

	if logg != nil {
		ctx = logg.WithFields(ctx, pkgerrors.Dump(err).LogFields())
		ctx = logg.WithField(ctx, "status", status)
		if status >= http.StatusInternalServerError {
			logg.Error(ctx, "request.error", err)
		} else {
			logg.Warn(ctx, "request.rejected")
		}
	}

	WriteJSON(w, status, envelopeFor(typed))
}

func envelopeFor(e *pkgerrors.Error) types.ErrorEnvelope {
	meta := pkgerrors.MetadataFor(e.Code())
	env := types.ErrorEnvelope{Message: meta.PublicMessage, Code: string(e.Code())}
	if meta.ExposeMessage && e.Message() != "" {
		env.Message = e.Message()
	}
	if meta.DetailsAllowed {
		env.Details = e.Details()
	}
	return env
}

// WriteJSON encodes payload as-is, for bodies that do not use the standard envelopes.
func WriteJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		// headers are gone; all that is left is to record it
		zlog.Error().Err(err).Int("status", status).Msg("response.encode_failed")
	}
}
