/*
Package metrics provides Prometheus metrics for CampaignMaster.

# Overview

A Collector owns a private Prometheus registry and implements the recorder
interfaces of the cache, store and apiclient packages, so one Collector can
be handed to each of them:

	collector, err := metrics.NewCollector(&metrics.Config{
		Enabled:   true,
		Namespace: "campaignmaster",
	})
	if err != nil {
		log.Fatal(err)
	}

	adapter := store.NewAdapter(backend, cfg, store.WithRecorder(collector))
	manager := cache.New(cacheCfg, cache.WithStore(adapter), cache.WithRecorder(collector))
	client := apiclient.New(apiCfg, apiclient.WithRecorder(collector))

The admin server mounts Handler at /metrics and OperationsHandler at
/debug/operations.

# Exported metrics

All names carry the configured namespace and subsystem.

	cache_lookups_total{cache,result}             hits and misses
	cache_evictions_total{cache,reason}           expired or capacity
	cache_entries{cache}                          current entry count
	cache_persist_total{cache,status}             snapshot writes
	cache_persist_duration_seconds{cache}
	store_operations_total{operation,status}      load, save, remove
	store_operation_duration_seconds{operation}
	http_client_requests_total{method,status,source}
	http_client_request_duration_seconds{method}
	circuit_state{name}

Requests answered from the cache are counted with source="cache" and are
not observed in the duration histogram.

# Disabled collectors

A Collector built with Enabled=false, or a nil *Collector, accepts every
Record call and does nothing. Its Handler responds 404.
*/
package metrics
