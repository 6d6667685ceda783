package tileserver

import (
	"context"
	"net/http"

	"github.com/ridge/trackmap/tws"
)

// browsers load tiles cross-origin, so they may follow the active source too
var eventsConfig = func() tws.Config {
	config := tws.DefaultConfig
	config.CheckOrigin = func(*http.Request) bool { return true }
	return config
}()

func (s *Server) events(w http.ResponseWriter, r *http.Request) {
	tws.Serve(w, r, eventsConfig, s.followActive)
}

// followActive sends the active source on connection and after every
// activation. Incoming messages are ignored.
func (s *Server) followActive(ctx context.Context, incoming <-chan tws.Message, outgoing chan<- tws.Message) error {
	for {
		s.mu.Lock()
		changed := s.changed
		var info *sourceInfo
		if s.active != nil {
			i := activeInfo(s.active.Descriptor(), s.id)
			info = &i
		}
		s.mu.Unlock()

		if info != nil {
			msg, err := tws.JSONMessage(info)
			if err != nil {
				return err
			}
			select {
			case outgoing <- msg:
			case <-ctx.Done():
				return ctx.Err()
			}
		}

	wait:
		for {
			select {
			case <-changed:
				break wait
			case _, ok := <-incoming:
				if !ok {
					return nil
				}
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}
}
