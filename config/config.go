// Package config loads and hot-reloads the TOML configuration for a
// resumable duplex connection deployment, grounded on
// cmd/dtnd/configuration.go's tomlConfig/parseCore split: a decoded
// struct plus a logging re-apply step, extended here with an
// fsnotify-driven watcher (cmd/dtn-tool/exchange.go's pattern) that
// re-applies the logging knobs on file change instead of requiring a
// restart.
package config

import (
	"fmt"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/fsnotify/fsnotify"
	log "github.com/sirupsen/logrus"
)

// Config is the top-level TOML-decoded configuration.
type Config struct {
	Side    string `toml:"side"`
	Session string `toml:"session"` // hex-encoded session token; empty means generate one
	Store   StoreConf
	Admin   AdminConf
	Logging LoggingConf
}

// StoreConf selects and sizes the Resumable Frames Store backend.
type StoreConf struct {
	Backend  string `toml:"backend"` // "memory" (default) or "badger"
	Dir      string `toml:"dir"`     // badger only
	Budget   int    `toml:"budget"`  // memory only; bytes; 0 means unbounded
	Compress bool   `toml:"compress"`
}

// AdminConf configures the operator-facing HTTP/WS surface.
type AdminConf struct {
	Listen string `toml:"listen"`
}

// LoggingConf mirrors the teacher's logConf block.
type LoggingConf struct {
	Level        string `toml:"level"`
	ReportCaller bool   `toml:"report-caller"`
	Format       string `toml:"format"`
}

// Load decodes path into a Config and applies its Logging section
// immediately.
func Load(path string) (*Config, error) {
	var cfg Config
	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return nil, err
	}

	if cfg.Side == "" {
		cfg.Side = "client"
	}
	if cfg.Store.Backend == "" {
		cfg.Store.Backend = "memory"
	}

	applyLogging(cfg.Logging)

	return &cfg, nil
}

// applyLogging re-applies the logrus level/report-caller/format knobs,
// following parseCore's inline logging setup in the teacher.
func applyLogging(conf LoggingConf) {
	if conf.Level != "" {
		if lvl, err := log.ParseLevel(conf.Level); err != nil {
			log.WithFields(log.Fields{
				"level":    conf.Level,
				"error":    err,
				"provided": "panic,fatal,error,warn,info,debug,trace",
			}).Warn("Failed to set log level. Please select one of the provided ones")
		} else {
			log.SetLevel(lvl)
		}
	}

	log.SetReportCaller(conf.ReportCaller)

	switch conf.Format {
	case "", "text":
		log.SetFormatter(&log.TextFormatter{
			FullTimestamp:   true,
			TimestampFormat: "15:04:05.000",
		})

	case "json":
		log.SetFormatter(&log.JSONFormatter{
			TimestampFormat: time.RFC3339Nano,
		})

	default:
		log.Warn("Unknown logging format")
	}
}

// Watch starts an fsnotify watcher on the file at path and calls onChange
// with a freshly reloaded Config (its Logging section re-applied) every
// time the file is written. Watch returns immediately; the watcher runs
// until the process exits or an unrecoverable watcher error occurs.
func Watch(path string, onChange func(*Config)) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("config: starting file watcher: %w", err)
	}
	if err := watcher.Add(path); err != nil {
		_ = watcher.Close()
		return fmt.Errorf("config: watching %s: %w", path, err)
	}

	go func() {
		defer watcher.Close()

		for {
			select {
			case e, ok := <-watcher.Events:
				if !ok {
					log.Error("config: fsnotify's Event channel was closed")
					return
				}
				if e.Op&(fsnotify.Write|fsnotify.Create) == 0 {
					continue
				}

				cfg, err := Load(path)
				if err != nil {
					log.WithError(err).Warn("config: reload failed, keeping previous configuration")
					continue
				}
				onChange(cfg)

			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				log.WithError(err).Warn("config: file watcher error")
			}
		}
	}()

	return nil
}
