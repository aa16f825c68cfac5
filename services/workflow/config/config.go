// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package config loads the workflow service configuration from the
// environment.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
)

// Config is the full service configuration.
type Config struct {
	// Port is the HTTP listen port.
	Port string `validate:"required,numeric"`

	// Workers bounds concurrent dispatches per run.
	Workers int `validate:"min=1"`

	// DispatchTimeout bounds one collaborator call attempt.
	DispatchTimeout time.Duration `validate:"min=0"`

	// MaxRetries, RetryBaseDelay, RetryMaxDelay configure dispatch retry.
	MaxRetries     int           `validate:"min=0"`
	RetryBaseDelay time.Duration `validate:"min=1"`
	RetryMaxDelay  time.Duration `validate:"min=1,gtefield=RetryBaseDelay"`

	// BreakerFailureThreshold and BreakerResetTimeout configure the
	// per-collaborator circuit breakers.
	BreakerFailureThreshold int           `validate:"min=1"`
	BreakerResetTimeout     time.Duration `validate:"min=1"`

	// AuthorityMatrixPath points at the YAML authority matrix. Empty
	// means every check passes.
	AuthorityMatrixPath string

	// CollaboratorsPath points at the YAML collaborator registry.
	CollaboratorsPath string `validate:"required"`

	// AuditPath is the BadgerDB directory for the audit trail. Empty
	// selects the in-memory sink.
	AuditPath string

	// OTLPEndpoint is the OTLP gRPC collector address.
	OTLPEndpoint string
}

// FromEnv reads the configuration, applying built-in defaults for
// anything unset.
//
// Environment variables use the KODIAK_ prefix: KODIAK_PORT,
// KODIAK_WORKERS, KODIAK_DISPATCH_TIMEOUT, KODIAK_MAX_RETRIES,
// KODIAK_RETRY_BASE_DELAY, KODIAK_RETRY_MAX_DELAY,
// KODIAK_BREAKER_FAILURE_THRESHOLD, KODIAK_BREAKER_RESET_TIMEOUT,
// KODIAK_AUTHORITY_MATRIX, KODIAK_COLLABORATORS, KODIAK_AUDIT_PATH, and
// OTEL_EXPORTER_OTLP_ENDPOINT.
func FromEnv() (Config, error) {
	cfg := Config{
		Port:                    envOr("KODIAK_PORT", "12300"),
		Workers:                 4,
		DispatchTimeout:         30 * time.Second,
		MaxRetries:              3,
		RetryBaseDelay:          1 * time.Second,
		RetryMaxDelay:           30 * time.Second,
		BreakerFailureThreshold: 5,
		BreakerResetTimeout:     60 * time.Second,
		AuthorityMatrixPath:     os.Getenv("KODIAK_AUTHORITY_MATRIX"),
		CollaboratorsPath:       envOr("KODIAK_COLLABORATORS", "/app/config/collaborators.yaml"),
		AuditPath:               os.Getenv("KODIAK_AUDIT_PATH"),
		OTLPEndpoint:            envOr("OTEL_EXPORTER_OTLP_ENDPOINT", "kodiak-otel-collector:4317"),
	}

	var err error
	if cfg.Workers, err = envInt("KODIAK_WORKERS", cfg.Workers); err != nil {
		return Config{}, err
	}
	if cfg.MaxRetries, err = envInt("KODIAK_MAX_RETRIES", cfg.MaxRetries); err != nil {
		return Config{}, err
	}
	if cfg.BreakerFailureThreshold, err = envInt("KODIAK_BREAKER_FAILURE_THRESHOLD", cfg.BreakerFailureThreshold); err != nil {
		return Config{}, err
	}
	if cfg.DispatchTimeout, err = envDuration("KODIAK_DISPATCH_TIMEOUT", cfg.DispatchTimeout); err != nil {
		return Config{}, err
	}
	if cfg.RetryBaseDelay, err = envDuration("KODIAK_RETRY_BASE_DELAY", cfg.RetryBaseDelay); err != nil {
		return Config{}, err
	}
	if cfg.RetryMaxDelay, err = envDuration("KODIAK_RETRY_MAX_DELAY", cfg.RetryMaxDelay); err != nil {
		return Config{}, err
	}
	if cfg.BreakerResetTimeout, err = envDuration("KODIAK_BREAKER_RESET_TIMEOUT", cfg.BreakerResetTimeout); err != nil {
		return Config{}, err
	}

	if err := validator.New().Struct(cfg); err != nil {
		return Config{}, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return n, nil
}

func envDuration(key string, fallback time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return d, nil
}
