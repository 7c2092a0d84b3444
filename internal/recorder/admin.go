package recorder

import (
	"errors"
	"fmt"
	"log"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"github.com/tailscale/tailsql/server/tailsql"
	"tailscale.com/tsweb"

	"github.com/hkevin01/wifi-radar/internal/httputil"
)

// AttachAdminRoutes mounts live SQL access to the recordings database and a
// JSON session listing on the tsweb debug page.
func (s *Store) AttachAdminRoutes(mux *http.ServeMux) {
	debug := tsweb.Debugger(mux)
	tsql, err := tailsql.NewServer(tailsql.Options{
		RoutePrefix: "/debug/tailsql/",
	})
	if err != nil {
		log.Fatalf("failed to create tailsql server: %v", err)
	}
	tsql.SetDB("sqlite://"+s.path, s.db, &tailsql.DBOptions{
		Label: "Recordings",
	})
	debug.Handle("tailsql/", "SQL live debugging", tsql.NewMux())
	debug.Handle("sessions", "Recorded capture sessions (JSON)", http.HandlerFunc(s.handleSessions))
	mux.HandleFunc("/api/sessions/", s.handleSession)
}

func (s *Store) handleSessions(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}
	sessions, err := s.Sessions(r.Context())
	if err != nil {
		httputil.InternalServerError(w, err.Error())
		return
	}
	if sessions == nil {
		sessions = []*Session{}
	}
	httputil.WriteJSONOK(w, sessions)
}

// handleSession serves GET and DELETE on /api/sessions/{id}.
func (s *Store) handleSession(w http.ResponseWriter, r *http.Request) {
	raw := strings.TrimPrefix(r.URL.Path, "/api/sessions/")
	if raw == "" {
		s.handleSessions(w, r)
		return
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		httputil.BadRequest(w, fmt.Sprintf("invalid session id %q", raw))
		return
	}

	switch r.Method {
	case http.MethodGet:
		sess, err := s.Session(r.Context(), id)
		if errors.Is(err, ErrSessionNotFound) {
			httputil.NotFound(w, err.Error())
			return
		} else if err != nil {
			httputil.InternalServerError(w, err.Error())
			return
		}
		events, err := s.TrackEvents(r.Context(), id)
		if err != nil {
			httputil.InternalServerError(w, err.Error())
			return
		}
		type eventJSON struct {
			TrackID uint64 `json:"track_id"`
			Event   string `json:"event"`
			TsNanos int64  `json:"ts_ns"`
		}
		out := struct {
			*Session
			TrackEvents []eventJSON `json:"track_events"`
		}{Session: sess, TrackEvents: []eventJSON{}}
		for _, ev := range events {
			out.TrackEvents = append(out.TrackEvents, eventJSON{uint64(ev.TrackID), ev.Event.String(), ev.Timestamp.UnixNano()})
		}
		httputil.WriteJSONOK(w, out)
	case http.MethodDelete:
		if err := s.DeleteSession(r.Context(), id); errors.Is(err, ErrSessionNotFound) {
			httputil.NotFound(w, err.Error())
		} else if err != nil {
			httputil.InternalServerError(w, err.Error())
		} else {
			w.WriteHeader(http.StatusNoContent)
		}
	default:
		httputil.MethodNotAllowed(w)
	}
}
