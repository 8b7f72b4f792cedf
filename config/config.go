// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

// Package config loads the gateway's runtime configuration via viper:
// environment-variable driven, with an optional YAML file overlay and an
// upfront directory-creation pass for every configured path.
package config

import (
	"os"
	"strings"

	"github.com/spf13/viper"
)

// AppConfig holds every recognized configuration option plus the
// connection details for the external collaborators (object store,
// document store, recognizer credentials) this gateway talks to.
type AppConfig struct {
	// Directories (auto-created).
	StorageDir  string `mapstructure:"storage_dir"`
	AnalysisDir string `mapstructure:"analysis_dir"`
	LogsDir     string `mapstructure:"logs_dir"`

	// Audio / recognizer tuning.
	RTCSampleRate  int    `mapstructure:"rtc_sample_rate"`
	STTSampleRate  int    `mapstructure:"stt_sample_rate"`
	RTCLanguage    string `mapstructure:"rtc_language"`
	STTModel       string `mapstructure:"stt_model"`
	STTUseEnhanced bool   `mapstructure:"stt_use_enhanced"`
	ICEServersJSON string `mapstructure:"ice_servers_json"`

	// Q/A extraction windows.
	QATimeWindowSec  float64 `mapstructure:"qa_time_window_sec"`
	QASentenceWindow int     `mapstructure:"qa_sentence_window"`

	// Recognizer provider selection and credentials.
	RecognizerProvider           string `mapstructure:"recognizer_provider"` // "google" | "deepgram" | "fake"
	GoogleApplicationCredentials string `mapstructure:"google_application_credentials"`
	DeepgramAPIKey               string `mapstructure:"deepgram_api_key"`

	// Denoiser.
	DenoiseEnabled bool   `mapstructure:"denoise_enabled"`
	DenoiseBinary  string `mapstructure:"denoise_binary"`

	// Persistence / storage backends.
	PersistenceProvider string `mapstructure:"persistence_provider"` // "redis" | "postgres"
	RedisAddr           string `mapstructure:"redis_addr"`
	RedisDB             int    `mapstructure:"redis_db"`
	PostgresDSN         string `mapstructure:"postgres_dsn"`
	S3Bucket            string `mapstructure:"s3_bucket"`
	S3Region            string `mapstructure:"s3_region"`

	// Control channel transport.
	ListenAddr string `mapstructure:"listen_addr"`
}

// Default returns the configuration's documented defaults.
func Default() AppConfig {
	return AppConfig{
		StorageDir:       "./data/recordings",
		AnalysisDir:      "./data/analysis",
		LogsDir:          "./data/logs",
		RTCSampleRate:    48000,
		STTSampleRate:    16000,
		RTCLanguage:      "ko-KR",
		STTModel:         "default",
		STTUseEnhanced:   false,
		QATimeWindowSec:  15,
		QASentenceWindow: 3,
		RecognizerProvider: "google",
		DenoiseEnabled:     false,
		DenoiseBinary:      "ffmpeg",
		PersistenceProvider: "redis",
		RedisAddr:           "localhost:6379",
		S3Region:            "us-east-1",
		ListenAddr:          ":8080",
	}
}

// Load builds an AppConfig from defaults, an optional YAML file at path
// (ignored if empty or missing), and STT_-prefixed environment variables,
// in that order of increasing precedence.
func Load(path string) (*AppConfig, error) {
	def := Default()

	v := viper.New()
	v.SetEnvPrefix("STT")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	setDefaults(v, def)

	if path != "" {
		if _, err := os.Stat(path); err == nil {
			v.SetConfigFile(path)
			if err := v.ReadInConfig(); err != nil {
				return nil, err
			}
		}
	}

	var cfg AppConfig
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	for _, dir := range []string{cfg.StorageDir, cfg.AnalysisDir, cfg.LogsDir} {
		if dir == "" {
			continue
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, err
		}
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper, def AppConfig) {
	v.SetDefault("storage_dir", def.StorageDir)
	v.SetDefault("analysis_dir", def.AnalysisDir)
	v.SetDefault("logs_dir", def.LogsDir)
	v.SetDefault("rtc_sample_rate", def.RTCSampleRate)
	v.SetDefault("stt_sample_rate", def.STTSampleRate)
	v.SetDefault("rtc_language", def.RTCLanguage)
	v.SetDefault("stt_model", def.STTModel)
	v.SetDefault("stt_use_enhanced", def.STTUseEnhanced)
	v.SetDefault("qa_time_window_sec", def.QATimeWindowSec)
	v.SetDefault("qa_sentence_window", def.QASentenceWindow)
	v.SetDefault("recognizer_provider", def.RecognizerProvider)
	v.SetDefault("denoise_enabled", def.DenoiseEnabled)
	v.SetDefault("denoise_binary", def.DenoiseBinary)
	v.SetDefault("persistence_provider", def.PersistenceProvider)
	v.SetDefault("redis_addr", def.RedisAddr)
	v.SetDefault("s3_region", def.S3Region)
	v.SetDefault("listen_addr", def.ListenAddr)
}
