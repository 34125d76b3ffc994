package api

import (
	"net/http"
	"strconv"

	"github.com/dzungpv/mitsubishi2MQTT/internal/events"
)

// Console page sizes
const (
	defaultEventLimit = 50
	maxEventLimit     = 100
)

// EventsHandler serves the console log
type EventsHandler struct {
	store *events.Store
}

// NewEventsHandler creates the console log handler
func NewEventsHandler(store *events.Store) *EventsHandler {
	return &EventsHandler{store: store}
}

// EventsResponse is a page of console events, newest first. LastID lets the
// panel poll with since= for only what is new.
type EventsResponse struct {
	Events []events.Event `json:"events"`
	LastID int64          `json:"lastId"`
}

// List handles GET /api/events?since=<id> or ?limit=<n>, optionally
// narrowed with type=<event type>
func (h *EventsHandler) List(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	var page []events.Event
	if since, err := strconv.ParseInt(q.Get("since"), 10, 64); err == nil {
		page = h.store.GetSince(since)
	} else {
		limit := defaultEventLimit
		if n, err := strconv.Atoi(q.Get("limit")); err == nil && n > 0 && n <= maxEventLimit {
			limit = n
		}
		page = h.store.GetLast(limit)
	}

	if typ := events.EventType(q.Get("type")); typ != "" {
		page = filterEvents(page, typ)
	}
	writeJSON(w, http.StatusOK, EventsResponse{Events: page, LastID: h.store.LastID()})
}

func filterEvents(in []events.Event, typ events.EventType) []events.Event {
	out := make([]events.Event, 0, len(in))
	for _, e := range in {
		if e.Type == typ {
			out = append(out, e)
		}
	}
	return out
}
