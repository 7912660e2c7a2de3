/*
Copyright 2026 Flant JSC

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package main

import (
	"fmt"
	"os"
	"strings"
	"time"
)

const (
	EtcdEndpointsEnvVar    = "ETCD_ENDPOINTS"
	EngineGatewayURLEnvVar = "ENGINE_GATEWAY_URL"
	EngineTimeoutEnvVar    = "ENGINE_TIMEOUT"

	APIBindAddressEnvVar         = "API_BIND_ADDRESS"
	HealthProbeBindAddressEnvVar = "HEALTH_PROBE_BIND_ADDRESS"
	MetricsPortEnvVar            = "METRICS_BIND_ADDRESS"

	// defaults are different for each app, do not merge them
	DefaultAPIBindAddress         = ":4270"
	DefaultHealthProbeBindAddress = ":4271"
	DefaultMetricsBindAddress     = ":4272"
)

type EnvConfig struct {
	EtcdEndpoints    []string
	EngineGatewayURL string
	EngineTimeout    time.Duration

	APIBindAddress         string
	HealthProbeBindAddress string
	MetricsBindAddress     string
}

func GetEnvConfig() (*EnvConfig, error) {
	cfg := &EnvConfig{}

	// etcd endpoints (required): where the spec ledger is persisted.
	raw := os.Getenv(EtcdEndpointsEnvVar)
	if raw == "" {
		return nil, fmt.Errorf("%s is required", EtcdEndpointsEnvVar)
	}
	for _, ep := range strings.Split(raw, ",") {
		if ep = strings.TrimSpace(ep); ep != "" {
			cfg.EtcdEndpoints = append(cfg.EtcdEndpoints, ep)
		}
	}
	if len(cfg.EtcdEndpoints) == 0 {
		return nil, fmt.Errorf("%s contains no endpoints", EtcdEndpointsEnvVar)
	}

	// Engine gateway URL (required): where data-plane actions are applied.
	cfg.EngineGatewayURL = os.Getenv(EngineGatewayURLEnvVar)
	if cfg.EngineGatewayURL == "" {
		return nil, fmt.Errorf("%s is required", EngineGatewayURLEnvVar)
	}

	// Engine timeout (optional, client default applies when unset).
	if raw := os.Getenv(EngineTimeoutEnvVar); raw != "" {
		d, err := time.ParseDuration(raw)
		if err != nil {
			return nil, fmt.Errorf("parsing %s: %w", EngineTimeoutEnvVar, err)
		}
		cfg.EngineTimeout = d
	}

	cfg.APIBindAddress = os.Getenv(APIBindAddressEnvVar)
	if cfg.APIBindAddress == "" {
		cfg.APIBindAddress = DefaultAPIBindAddress
	}

	cfg.HealthProbeBindAddress = os.Getenv(HealthProbeBindAddressEnvVar)
	if cfg.HealthProbeBindAddress == "" {
		cfg.HealthProbeBindAddress = DefaultHealthProbeBindAddress
	}

	cfg.MetricsBindAddress = os.Getenv(MetricsPortEnvVar)
	if cfg.MetricsBindAddress == "" {
		cfg.MetricsBindAddress = DefaultMetricsBindAddress
	}

	return cfg, nil
}
