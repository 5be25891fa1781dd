package server

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/joseph-ayodele/expense-extractor/internal/common"
	"github.com/joseph-ayodele/expense-extractor/internal/entity"
)

func wantsEventStream(r *http.Request) bool {
	return strings.Contains(r.Header.Get(echo.HeaderAccept), "text/event-stream")
}

// streamEvents replays the history after `after` and then follows live
// events until the request reaches a terminal state or the client leaves.
func (s *Server) streamEvents(c echo.Context, id string, after int64) error {
	ctx := c.Request().Context()
	logger := common.LoggerFromContext(ctx, s.logger).With("request_id", id)

	// subscribe before reading history so nothing falls in between
	var live <-chan entity.Event
	if s.stream != nil {
		ch, cancel := s.stream.Subscribe(id)
		defer cancel()
		live = ch
	}

	history, err := s.svc.Events(ctx, id, after)
	if err != nil {
		return httpError(err)
	}
	terminal := false
	if len(history) == 0 {
		// after is at or past the last event; only the current state tells
		// whether more will come
		st, err := s.svc.Status(ctx, id)
		if err != nil {
			return httpError(err)
		}
		terminal = st.State.Terminal()
	}

	w := c.Response()
	w.Header().Set(echo.HeaderContentType, "text/event-stream")
	w.Header().Set(echo.HeaderCacheControl, "no-cache")
	w.Header().Set(echo.HeaderConnection, "keep-alive")
	w.WriteHeader(http.StatusOK)

	last := after
	for _, ev := range history {
		if err := writeEvent(w, ev); err != nil {
			return nil
		}
		last = ev.Seq
		terminal = ev.State.Terminal()
	}
	w.Flush()
	if terminal || live == nil {
		return nil
	}

	logger.Debug("http.stream.follow", "after_seq", last)
	ticker := time.NewTicker(s.config.Heartbeat)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if _, err := fmt.Fprint(w, ": heartbeat\n\n"); err != nil {
				return nil
			}
			w.Flush()
		case ev, ok := <-live:
			if !ok {
				return nil
			}
			if ev.Seq <= last {
				continue
			}
			if err := writeEvent(w, ev); err != nil {
				return nil
			}
			w.Flush()
			last = ev.Seq
			if ev.State.Terminal() {
				return nil
			}
		}
	}
}

func writeEvent(w *echo.Response, ev entity.Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "id: %d\nevent: %s\ndata: %s\n\n", ev.Seq, ev.State, data)
	return err
}
