// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

// Command sttgateway wires the real-time speech-to-text gateway's HTTP
// entrypoint: configuration, logging, storage connectors, the recognizer
// factory, and the control-channel WebSocket handler.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/pion/webrtc/v4"

	"github.com/realtalk/sttgateway/config"
	"github.com/realtalk/sttgateway/internal/audio"
	"github.com/realtalk/sttgateway/internal/control"
	"github.com/realtalk/sttgateway/internal/persistence"
	"github.com/realtalk/sttgateway/internal/recognizer"
	"github.com/realtalk/sttgateway/internal/registry"
	"github.com/realtalk/sttgateway/internal/session"
	"github.com/realtalk/sttgateway/pkg/commons"
	"github.com/realtalk/sttgateway/pkg/connectors"
)

func main() {
	configPath := flag.String("config", "", "path to an optional YAML configuration file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	logger, err := commons.NewApplicationLogger(commons.LoggerConfig{
		LogsDir:    cfg.LogsDir,
		Production: os.Getenv("STT_ENV") == "production",
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to build logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	store, err := buildStore(ctx, cfg, logger)
	if err != nil {
		logger.Fatalf("failed to build persistence store: %v", err)
	}

	recognizerFactory, err := buildRecognizerFactory(cfg, logger)
	if err != nil {
		logger.Fatalf("failed to build recognizer factory: %v", err)
	}

	var objectStore connectors.ObjectStore
	if cfg.S3Bucket != "" {
		objectStore, err = connectors.NewObjectStore(cfg.S3Bucket, cfg.S3Region)
		if err != nil {
			logger.Fatalf("failed to build object store: %v", err)
		}
	}

	sessionCfg := session.Config{
		ICEServers: buildICEServers(cfg.ICEServersJSON),
		Audio: audio.Config{
			InputSampleRate:  cfg.RTCSampleRate,
			OutputSampleRate: cfg.STTSampleRate,
			QueueCapacity:    64,
			DenoiseEnabled:   cfg.DenoiseEnabled,
			DenoiseBinary:    cfg.DenoiseBinary,
			StorageDir:       cfg.StorageDir,
			AnalysisDir:      cfg.AnalysisDir,
		},
		Recognizer: recognizer.Config{
			SampleRate:               cfg.STTSampleRate,
			Language:                 cfg.RTCLanguage,
			Model:                    cfg.STTModel,
			UseEnhanced:              cfg.STTUseEnhanced,
			EnablePunctuation:        true,
			EnableWordTimeOffsets:    true,
			EnableSpeakerDiarization: true,
			MaxSpeakers:              2,
		},
		QATimeWindowSec:  cfg.QATimeWindowSec,
		QASentenceWindow: cfg.QASentenceWindow,
		StopJoinTimeout:  2 * time.Second,
		ObjectStore:      objectStore,
	}

	reg := registry.New(logger)

	mux := http.NewServeMux()
	mux.HandleFunc("/v1/stt/ws", func(w http.ResponseWriter, r *http.Request) {
		ws, err := control.Upgrader.Upgrade(w, r, nil)
		if err != nil {
			logger.Warnf("control channel upgrade failed: %v", err)
			return
		}
		conn := control.NewConn(ws, logger)
		defer conn.Close()

		reg.Serve(r.Context(), conn, sessionCfg, recognizerFactory, store)
	})

	srv := &http.Server{Addr: cfg.ListenAddr, Handler: mux}

	go func() {
		logger.Infow("stt gateway listening", "addr", cfg.ListenAddr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatalf("http server failed: %v", err)
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down, stopping all live sessions")
	reg.StopAll("server shutdown")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warnf("http server shutdown error: %v", err)
	}
}

// buildStore selects the Redis- or Postgres-backed persistence boundary
// per cfg.PersistenceProvider.
func buildStore(ctx context.Context, cfg *config.AppConfig, logger commons.Logger) (persistence.Store, error) {
	switch cfg.PersistenceProvider {
	case "postgres":
		conn, err := connectors.NewPostgresConnector(cfg.PostgresDSN)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to postgres: %w", err)
		}
		return persistence.NewPostgresStore(conn), nil

	case "redis", "":
		conn, err := connectors.NewRedisConnector(ctx, cfg.RedisAddr, cfg.RedisDB)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to redis: %w", err)
		}
		return persistence.NewRedisStore(conn, logger), nil

	default:
		return nil, fmt.Errorf("unknown persistence_provider %q", cfg.PersistenceProvider)
	}
}

// buildRecognizerFactory selects the upstream StreamingRecognizer
// implementation per cfg.RecognizerProvider.
func buildRecognizerFactory(cfg *config.AppConfig, logger commons.Logger) (session.RecognizerFactory, error) {
	switch cfg.RecognizerProvider {
	case "google", "":
		var credentialsJSON []byte
		if cfg.GoogleApplicationCredentials != "" {
			raw, err := os.ReadFile(cfg.GoogleApplicationCredentials)
			if err != nil {
				return nil, fmt.Errorf("failed to read google credentials: %w", err)
			}
			credentialsJSON = raw
		}
		opt := recognizer.NewGoogleOption(logger, credentialsJSON)
		return func() recognizer.StreamingRecognizer {
			return recognizer.NewGoogleRecognizer(opt)
		}, nil

	case "deepgram":
		opt, err := recognizer.NewDeepgramOption(cfg.DeepgramAPIKey)
		if err != nil {
			return nil, err
		}
		return func() recognizer.StreamingRecognizer {
			return recognizer.NewDeepgramRecognizer(opt)
		}, nil

	case "fake":
		return func() recognizer.StreamingRecognizer {
			return recognizer.NewFakeRecognizer()
		}, nil

	default:
		return nil, fmt.Errorf("unknown recognizer_provider %q", cfg.RecognizerProvider)
	}
}

// iceServerEntry matches the object form of ice_servers_json entries:
// {urls, username?, credential?}. Bare string entries are handled before
// this shape is tried.
type iceServerEntry struct {
	URLs       interface{} `json:"urls"`
	Username   string      `json:"username"`
	Credential string      `json:"credential"`
}

// buildICEServers always includes the default STUN server, then appends
// whatever overrides ice_servers_json carries.
func buildICEServers(iceServersJSON string) []webrtc.ICEServer {
	servers := []webrtc.ICEServer{{URLs: []string{"stun:stun.l.google.com:19302"}}}

	if iceServersJSON == "" {
		return servers
	}

	var entries []json.RawMessage
	if err := json.Unmarshal([]byte(iceServersJSON), &entries); err != nil {
		return servers
	}

	for _, raw := range entries {
		var asString string
		if err := json.Unmarshal(raw, &asString); err == nil {
			servers = append(servers, webrtc.ICEServer{URLs: []string{asString}})
			continue
		}

		var entry iceServerEntry
		if err := json.Unmarshal(raw, &entry); err != nil {
			continue
		}

		var urls []string
		switch v := entry.URLs.(type) {
		case string:
			urls = []string{v}
		case []interface{}:
			for _, u := range v {
				if s, ok := u.(string); ok {
					urls = append(urls, s)
				}
			}
		}
		if len(urls) == 0 {
			continue
		}

		servers = append(servers, webrtc.ICEServer{
			URLs:       urls,
			Username:   entry.Username,
			Credential: entry.Credential,
		})
	}

	return servers
}
