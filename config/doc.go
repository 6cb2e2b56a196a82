// Package config loads and validates semlink configuration.
//
// Configuration is read from one or more JSON or YAML layers. Each layer is
// decoded into a generic map and deep-merged over the previous ones, so a
// production layer only needs the keys it changes. SEMLINK_* environment
// variables are applied last.
//
//	loader := config.NewLoader()
//	loader.AddLayer("configs/base.yaml")
//	loader.AddLayer("configs/production.json")
//	loader.EnableValidation(true)
//
//	cfg, err := loader.Load()
//	if err != nil {
//		log.Fatal(err)
//	}
//
// Validate fills defaults (queue size, drain timeout, ports, bucket and
// subject names) before checking ranges, so a validated Config is always
// complete.
//
// # Environment Overrides
//
//	SEMLINK_PLATFORM_ID
//	SEMLINK_NATS_URLS            comma separated
//	SEMLINK_NATS_USERNAME, SEMLINK_NATS_PASSWORD, SEMLINK_NATS_TOKEN
//	SEMLINK_NATS_EVENTS_SUBJECT
//	SEMLINK_WIRING_BUCKET
//	SEMLINK_HTTP_PORT, SEMLINK_METRICS_PORT
//	SEMLINK_MANAGER_QUEUE_SIZE, SEMLINK_MANAGER_AUTO_CONNECT
//
// # Thread Safety
//
// Config values are plain structs. SafeConfig guards a Config behind an
// RWMutex and hands out deep copies from Get.
package config
