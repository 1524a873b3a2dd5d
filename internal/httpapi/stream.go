package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"sysaccess.org/internal/access"
)

const keepAlive = 25 * time.Second

// Stream serves decision events as Server-Sent Events, limited to what the caller may see.
func (a *API) Stream(w http.ResponseWriter, r *http.Request) {
	if a.stream == nil {
		writeError(w, r, http.StatusServiceUnavailable, "streaming disabled", "unavailable")
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, r, http.StatusInternalServerError, "streaming unsupported", "internal")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	ch := a.stream.Subscribe(ctx, eventFilter(actor(r)))

	// Send an initial comment to establish the stream
	_, _ = w.Write([]byte(": stream started\n\n"))
	flusher.Flush()

	ticker := time.NewTicker(keepAlive)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			_, _ = w.Write([]byte(": ping\n\n"))
			flusher.Flush()
		case event, ok := <-ch:
			if !ok {
				return
			}
			payload, err := json.Marshal(event)
			if err != nil {
				continue
			}
			_, _ = w.Write([]byte("event: decision\ndata: "))
			_, _ = w.Write(payload)
			_, _ = w.Write([]byte("\n\n"))
			flusher.Flush()
		}
	}
}

// eventFilter mirrors the queue scoping rules for live events.
func eventFilter(a access.Actor) func(access.Event) bool {
	if access.CanOverride(a) {
		return nil
	}
	switch a.Role() {
	case access.RoleICT:
		return nil
	case access.RoleHOD:
		return func(ev access.Event) bool {
			return ev.Directorate == a.Assignment.Directorate || ev.ManagerID == a.UserID || ev.RequesterID == a.UserID
		}
	case access.RoleSysAdmin:
		return func(ev access.Event) bool {
			return ev.System == a.Assignment.System || ev.RequesterID == a.UserID
		}
	}
	return func(ev access.Event) bool { return ev.RequesterID == a.UserID }
}
