/*
Package config provides configuration management for CampaignMaster.

Configuration is layered. Compiled-in defaults come first, then a YAML
file, then CAMPAIGNMASTER_* environment variables, then command-line
overrides applied by the caller. Validate checks the merged result.

# Configuration Structure

	global:      logging (level, format, file)
	cache:       cache manager (TTL, capacity, version, persistence, sweeping)
	store:       snapshot backend (memory, file, s3, minio)
	api:         backend HTTP client (base URL, timeout, retry, circuit breaker)
	server:      admin HTTP server (address, timeouts, CORS)
	monitoring:  Prometheus metrics

# Usage

	cfg := config.NewDefault()

	if err := cfg.LoadFromFile("/etc/campaignmaster/config.yaml"); err != nil {
		log.Fatal(err)
	}
	if err := cfg.LoadFromEnv(); err != nil {
		log.Fatal(err)
	}

	cfg.Global.LogLevel = "DEBUG"

	if err := cfg.Validate(); err != nil {
		log.Fatal(err)
	}

Configuration file format:

	global:
	  log_level: INFO
	  log_format: json

	cache:
	  default_ttl: 5m
	  max_entries: 1000
	  version: "1.0.0"
	  enable_persistence: true
	  storage_key: app-cache
	  sweep_interval: 1m

	store:
	  backend: s3
	  s3:
	    bucket: campaignmaster-cache
	    region: us-west-2
	    enable_cargoship: true

	api:
	  base_url: http://localhost:5000/api
	  timeout: 10s
	  cache_ttl: 5m

	server:
	  address: ":8080"

Environment variable mapping:

	CAMPAIGNMASTER_LOG_LEVEL="DEBUG"
	CAMPAIGNMASTER_CACHE_TTL="10m"
	CAMPAIGNMASTER_CACHE_MAX_ENTRIES="5000"
	CAMPAIGNMASTER_CACHE_PERSISTENCE="false"
	CAMPAIGNMASTER_STORE_BACKEND="minio"
	CAMPAIGNMASTER_MINIO_ENDPOINT="localhost:9000"
	CAMPAIGNMASTER_API_URL="https://api.example.com/api"
	CAMPAIGNMASTER_SERVER_ADDRESS=":9090"

NEXT_PUBLIC_API_URL is accepted as a fallback for the API base URL.

Errors are *errors.CampaignMasterError values with codes CONFIG_LOAD,
CONFIG_SAVE or CONFIG_VALIDATION; validation errors carry the offending
field under the "field" context key.
*/
package config
