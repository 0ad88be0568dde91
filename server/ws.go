package server

import (
	"net/http"

	"github.com/cyclopcam/annotate/pkg/annot"
	"github.com/gorilla/websocket"
	"github.com/julienschmidt/httprouter"
)

// Sent to the client after every event received over the websocket
type wsMessage struct {
	Error string       `json:"error,omitempty"`
	State *annot.State `json:"state,omitempty"`
}

// httpWebSocket is the low latency alternative to /api/events.
// The client sends one annot.Event per message, and receives the resulting state in reply.
// A bad event produces an error reply, but the connection stays open.
func (s *Server) httpWebSocket(w http.ResponseWriter, r *http.Request, params httprouter.Params) {
	c, err := s.wsUpgrader.Upgrade(w, r, nil)
	if err != nil {
		s.Log.Errorf("httpWebSocket upgrade failed: %v", err)
		return
	}
	defer c.Close()
	s.Log.Infof("Event websocket connected from %v", r.RemoteAddr)

	// Send the initial state, so the client can render before its first event
	var state annot.State
	s.withSession(func(session *annot.Session) {
		state = session.State()
	})
	if err := c.WriteJSON(wsMessage{State: &state}); err != nil {
		s.Log.Warnf("Event websocket failed to send initial state: %v", err)
		return
	}

	nEvents := 0
	for {
		ev := annot.Event{}
		if err := c.ReadJSON(&ev); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				s.Log.Warnf("Event websocket read error: %v", err)
			}
			break
		}
		nEvents++
		msg := wsMessage{}
		s.withSession(func(session *annot.Session) {
			if err := session.Apply(ev); err != nil {
				msg.Error = err.Error()
			}
			st := session.State()
			msg.State = &st
		})
		if err := c.WriteJSON(msg); err != nil {
			s.Log.Warnf("Event websocket write error: %v", err)
			break
		}
	}
	s.Log.Infof("Event websocket closed after %v events", nEvents)
}
