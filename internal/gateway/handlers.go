package gateway

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/dohr-michael/decoded/internal/completion"
	"github.com/dohr-michael/decoded/internal/generation"
	"github.com/dohr-michael/decoded/internal/models"
	"github.com/dohr-michael/decoded/internal/sessions"
)

var errInvalidLimit = errors.New("limit must be a positive integer")

func (s *Server) handleListSessions(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.ctrl.List())
}

func (s *Server) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	var p CreateParams
	if !readBody(w, r, &p) {
		return
	}
	info, err := s.ctrl.Create(r.Context(), p)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, info)
}

func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	respond(w, http.StatusOK)(s.ctrl.Get(sessionParams(r)))
}

func (s *Server) handleCloseSession(w http.ResponseWriter, r *http.Request) {
	if err := s.ctrl.Close(sessionParams(r)); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleManual(w http.ResponseWriter, r *http.Request) {
	var p ManualParams
	if !readBody(w, r, &p) {
		return
	}
	p.SessionID = chi.URLParam(r, "id")
	respond(w, http.StatusOK)(s.ctrl.Manual(r.Context(), p))
}

func (s *Server) handleChoose(w http.ResponseWriter, r *http.Request) {
	var p ChooseParams
	if !readBody(w, r, &p) {
		return
	}
	p.SessionID = chi.URLParam(r, "id")
	respond(w, http.StatusOK)(s.ctrl.Choose(r.Context(), p))
}

func (s *Server) handleContinue(w http.ResponseWriter, r *http.Request) {
	respond(w, http.StatusOK)(s.ctrl.Continue(r.Context(), sessionParams(r)))
}

func (s *Server) handleSimulate(w http.ResponseWriter, r *http.Request) {
	respond(w, http.StatusAccepted)(s.ctrl.Simulate(sessionParams(r)))
}

func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	var p StreamParams
	if !readBody(w, r, &p) {
		return
	}
	p.SessionID = chi.URLParam(r, "id")
	respond(w, http.StatusAccepted)(s.ctrl.Stream(p))
}

func (s *Server) handleStop(w http.ResponseWriter, r *http.Request) {
	respond(w, http.StatusOK)(s.ctrl.Stop(sessionParams(r)))
}

func (s *Server) handleReset(w http.ResponseWriter, r *http.Request) {
	respond(w, http.StatusOK)(s.ctrl.Reset(sessionParams(r)))
}

func (s *Server) handleSampling(w http.ResponseWriter, r *http.Request) {
	var p SamplingParams
	if !readBody(w, r, &p) {
		return
	}
	p.SessionID = chi.URLParam(r, "id")
	respond(w, http.StatusOK)(s.ctrl.SetSampling(p))
}

func sessionParams(r *http.Request) SessionParams {
	return SessionParams{SessionID: chi.URLParam(r, "id")}
}

// respond returns a writer for a (session state, error) result.
func respond(w http.ResponseWriter, status int) func(sessions.Info, error) {
	return func(info sessions.Info, err error) {
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, status, info)
	}
}

// readBody decodes an optional JSON body into v. It writes a 400 and returns false
// when the body is not valid JSON.
func readBody(w http.ResponseWriter, r *http.Request, v any) bool {
	data, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil {
		writeError(w, &paramsError{err: err})
		return false
	}
	if err := decodeParams(data, v); err != nil {
		writeError(w, err)
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, err error) {
	writeJSON(w, statusFor(err), map[string]string{"error": err.Error()})
}

// statusFor maps operation errors onto HTTP statuses.
func statusFor(err error) int {
	var perr *paramsError
	var apiErr *completion.APIError
	var netErr *completion.NetworkError
	var unavailable *models.ErrModelUnavailable
	switch {
	case errors.Is(err, sessions.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, generation.ErrBusy), errors.Is(err, generation.ErrNotActive):
		return http.StatusConflict
	case errors.As(err, &perr),
		errors.Is(err, models.ErrUnknownProvider),
		errors.Is(err, generation.ErrInvalidChoice),
		errors.Is(err, generation.ErrNoSeed),
		errors.Is(err, generation.ErrInvalidSampling),
		errors.Is(err, generation.ErrStreamingUnsupported):
		return http.StatusBadRequest
	case errors.As(err, &apiErr),
		errors.As(err, &netErr),
		errors.As(err, &unavailable),
		errors.Is(err, generation.ErrNoCandidates):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
