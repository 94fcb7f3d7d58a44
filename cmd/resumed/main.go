package main

import (
	"crypto/rand"
	"net/http"
	"os"
	"os/signal"

	log "github.com/sirupsen/logrus"

	"github.com/resume-rsocket/rsocket-resume-go/config"
)

// newRandomToken mints a fresh session token when none is pinned in
// configuration.
func newRandomToken(n int) ([]byte, error) {
	token := make([]byte, n)
	if _, err := rand.Read(token); err != nil {
		return nil, err
	}
	return token, nil
}

// waitSigint blocks until a SIGINT is delivered.
func waitSigint() {
	signalSyn := make(chan os.Signal, 1)
	signal.Notify(signalSyn, os.Interrupt)
	<-signalSyn
}

// drainInbound logs every frame the Connection surfaces to the session
// side and requests demand once, wiring the initial transport.
func drainInbound(comps *components) {
	inbound := comps.conn.Receive()
	comps.conn.RequestReceive()

	for frame := range inbound {
		log.WithFields(log.Fields{
			"streamID": frame.StreamID(),
			"length":   frame.Len(),
		}).Debug("resumed: received frame")
		frame.Release()
	}
}

func main() {
	if len(os.Args) != 2 {
		log.Fatalf("Usage: %s configuration.toml", os.Args[0])
	}

	cfg, err := config.Load(os.Args[1])
	if err != nil {
		log.WithError(err).Fatal("Failed to parse config")
	}

	if err := config.Watch(os.Args[1], func(next *config.Config) {
		log.Info("resumed: configuration file changed, logging knobs re-applied")
	}); err != nil {
		log.WithError(err).Warn("resumed: failed to start configuration watcher")
	}

	comps, err := buildComponents(cfg)
	if err != nil {
		log.WithError(err).Fatal("Failed to build connection")
	}

	go drainInbound(comps)

	if cfg.Admin.Listen != "" {
		go func() {
			log.WithField("listen", cfg.Admin.Listen).Info("resumed: admin server listening")
			if err := http.ListenAndServe(cfg.Admin.Listen, comps.adminSrv); err != nil {
				log.WithError(err).Warn("resumed: admin server stopped")
			}
		}()
	}

	waitSigint()
	log.Info("Shutting down..")

	comps.reconnectMgr.Stop()
	comps.conn.Dispose(nil)
}
