package serialmux

import (
	"embed"
	"fmt"
	"html/template"
	"net/http"
	"strings"

	"tailscale.com/tsweb"

	"github.com/hkevin01/wifi-radar/internal/httputil"
)

//go:embed templates/*
var adminFS embed.FS

var consolePage = template.Must(template.ParseFS(adminFS, "templates/send-command.html.tmpl"))

// commandResult is the JSON reply of send-command-api.
type commandResult struct {
	Sent string `json:"sent"`
}

// AttachAdminRoutes registers the console page, its command endpoint and
// a server-sent-events tail under /debug/. tsweb restricts them to
// loopback and tailnet clients.
func (s *SerialMux) AttachAdminRoutes(mux *http.ServeMux) {
	debug := tsweb.Debugger(mux)
	debug.HandleFunc("send-command", "send a command to the CSI receiver console", s.handleConsole)
	debug.HandleSilentFunc("send-command-api", s.handleCommand)
	debug.HandleSilentFunc("tail", s.handleTail)
	debug.HandleSilentFunc("tail.js", handleTailScript)
}

func (s *SerialMux) handleConsole(w http.ResponseWriter, r *http.Request) {
	var page strings.Builder
	if err := consolePage.Execute(&page, nil); err != nil {
		httputil.InternalServerError(w, "failed to render console")
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	fmt.Fprint(w, page.String())
}

func (s *SerialMux) handleCommand(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		httputil.MethodNotAllowed(w)
		return
	}
	command := strings.TrimSpace(r.FormValue("command"))
	if command == "" {
		httputil.BadRequest(w, "missing command")
		return
	}
	if err := s.SendCommand(command); err != nil {
		httputil.InternalServerError(w, "failed to write command: "+err.Error())
		return
	}
	httputil.WriteJSONOK(w, commandResult{Sent: command})
}

// handleTail streams one event per console line until the client leaves
// or the mux closes.
func (s *SerialMux) handleTail(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		httputil.InternalServerError(w, "streaming unsupported")
		return
	}
	h := w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("X-Accel-Buffering", "no")

	id, lines := s.Subscribe()
	defer s.Unsubscribe(id)

	fmt.Fprint(w, ": connected\n\n")
	flusher.Flush()
	for {
		select {
		case <-r.Context().Done():
			return
		case line, ok := <-lines:
			if !ok {
				return
			}
			if _, err := fmt.Fprintf(w, "data: %s\n\n", line); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}

func handleTailScript(w http.ResponseWriter, r *http.Request) {
	script, err := adminFS.ReadFile("templates/tail.js")
	if err != nil {
		httputil.InternalServerError(w, "tail.js missing")
		return
	}
	w.Header().Set("Content-Type", "application/javascript")
	w.Header().Set("Cache-Control", "no-cache")
	_, _ = w.Write(script)
}
