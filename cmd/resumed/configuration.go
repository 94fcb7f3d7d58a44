package main

import (
	"context"
	"encoding/hex"
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/resume-rsocket/rsocket-resume-go/admin"
	"github.com/resume-rsocket/rsocket-resume-go/config"
	"github.com/resume-rsocket/rsocket-resume-go/reconnect"
	"github.com/resume-rsocket/rsocket-resume-go/resume"
	"github.com/resume-rsocket/rsocket-resume-go/store"
	"github.com/resume-rsocket/rsocket-resume-go/transport/loopback"
)

// components bundles the pieces main needs to run and eventually tear
// down, the equivalent of what cmd/dtnd's parseCore hands back as (core,
// discovery, profiling) but for a resumable duplex connection demo.
type components struct {
	conn         *resume.Connection
	frameStore   resume.FramesStore
	adminSrv     *admin.Server
	reconnectMgr *reconnect.Manager
}

// sessionToken decodes cfg.Session from hex, or mints a fresh 16-byte
// token if none was configured — a resumption session token has no
// meaning across process restarts unless the operator pins one.
func sessionToken(cfg *config.Config) ([]byte, error) {
	if cfg.Session == "" {
		return newRandomToken(16)
	}
	token, err := hex.DecodeString(cfg.Session)
	if err != nil {
		return nil, fmt.Errorf("decoding session token: %w", err)
	}
	return token, nil
}

func parseSide(cfg *config.Config) resume.Side {
	if cfg.Side == "server" {
		return resume.Server
	}
	return resume.Client
}

// buildFramesStore selects and constructs the configured resume.FramesStore
// backend, returning its kind label alongside for the admin package's
// /store endpoint.
func buildFramesStore(cfg *config.Config) (resume.FramesStore, string, error) {
	switch cfg.Store.Backend {
	case "", "memory":
		return store.NewMemory(cfg.Store.Budget), "memory", nil

	case "badger":
		b, err := store.NewBadger(cfg.Store.Dir, cfg.Store.Compress)
		if err != nil {
			return nil, "", err
		}
		return b, "badger", nil

	default:
		return nil, "", fmt.Errorf("unknown store backend %q", cfg.Store.Backend)
	}
}

// echoPeer stands in for the remote party this demo talks to: it reads
// whatever the Connection under test sends and bounces every frame
// straight back, so operators poking at /status and /events see live
// position counters move without needing a second process.
func echoPeer(t resume.Transport) {
	for frame := range t.Receive() {
		log.WithFields(log.Fields{
			"streamID": frame.StreamID(),
			"length":   frame.Len(),
		}).Debug("resumed: peer echoing frame")
		t.SendFrame(frame)
	}
}

// buildComponents wires a Connection over one end of an in-memory loopback
// pair, a peer goroutine driving the other end, the admin HTTP/WS surface,
// and a default reconnect.Manager whose Dialer opens a fresh loopback pair
// on every reattachment attempt.
func buildComponents(cfg *config.Config) (*components, error) {
	token, err := sessionToken(cfg)
	if err != nil {
		return nil, err
	}

	fstore, kind, err := buildFramesStore(cfg)
	if err != nil {
		return nil, fmt.Errorf("frames store: %w", err)
	}

	local, peer := loopback.Pair("local", "peer")
	go echoPeer(peer)

	conn := resume.New(parseSide(cfg), token, local, fstore)

	dial := func(ctx context.Context) (resume.Transport, error) {
		newLocal, newPeer := loopback.Pair("local", "peer")
		go echoPeer(newPeer)
		return newLocal, nil
	}
	reconnectMgr := reconnect.New(conn, dial, 2*time.Second, 0)
	reconnectMgr.Start()

	adminSrv := admin.New(conn, fstore, kind, cfg.Store.Budget, reconnectMgr)

	log.WithFields(log.Fields{
		"side":    cfg.Side,
		"session": hex.EncodeToString(token),
		"store":   kind,
	}).Info("resumed: connection established")

	return &components{
		conn:         conn,
		frameStore:   fstore,
		adminSrv:     adminSrv,
		reconnectMgr: reconnectMgr,
	}, nil
}
