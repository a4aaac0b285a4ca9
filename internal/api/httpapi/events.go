package httpapi

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/cockroachdb/errors"
	zlog "github.com/rs/zerolog/log"

	"github.com/osa030/skiptracker/internal/app/notification"
)

// errStreamClosed is returned by Send once the client has gone away or the
// subscription has ended.
var errStreamClosed = errors.New("event stream closed")

// sseStream adapts a server-sent events response to notification.Stream.
type sseStream struct {
	ch     chan *notification.Notification
	done   <-chan struct{} // request context
	closed chan struct{}   // handler returned
}

// Send implements notification.Stream.
func (s *sseStream) Send(n *notification.Notification) error {
	select {
	case s.ch <- n:
		return nil
	case <-s.done:
		return errStreamClosed
	case <-s.closed:
		return errStreamClosed
	}
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	ctx := r.Context()
	stream := &sseStream{
		ch:     make(chan *notification.Notification, 16),
		done:   ctx.Done(),
		closed: make(chan struct{}),
	}
	id, ended := s.subscriber.Subscribe(stream)
	defer s.subscriber.Unsubscribe(id)
	defer close(stream.closed)
	zlog.Debug().Msgf("api: event subscriber %s connected", id)

	for {
		select {
		case <-ctx.Done():
			zlog.Debug().Msgf("api: event subscriber %s disconnected", id)
			return
		case <-ended:
			zlog.Debug().Msgf("api: event subscription %s closed", id)
			return
		case n := <-stream.ch:
			data, err := json.Marshal(n)
			if err != nil {
				continue
			}
			if _, err := fmt.Fprintf(w, "id: %d\nevent: %s\ndata: %s\n\n", n.SequenceNo, n.Type, data); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}
