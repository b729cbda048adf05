package zeusircd2

import (
	"time"

	"gopkg.in/irc.v4"
)

// keepaliveSweep runs until stop is closed, checking every session once
// per tick against the PING/PONG liveness rule of §4.B: "if now -
// last_activity > ping_timeout, send PING with a fresh cookie; if now -
// ping_sent > pong_timeout with no matching PONG, terminate."
func (srv *Server) keepaliveSweep(stop <-chan struct{}) {
	ticker := time.NewTicker(1 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			cfg := srv.CurrentConfig()
			pingTimeout := time.Duration(cfg.PingTimeout) * time.Second
			pongTimeout := time.Duration(cfg.PongTimeout) * time.Second
			if pingTimeout <= 0 {
				continue
			}

			for _, sess := range srv.allSessions() {
				if sess.pingTimedOut(pongTimeout) {
					sess.Close("Ping timeout")
					continue
				}
				if need, cookie := sess.needsPing(pingTimeout); need {
					sess.Send(&irc.Message{Command: "PING", Params: []string{cookie}})
				}
			}
		}
	}
}
