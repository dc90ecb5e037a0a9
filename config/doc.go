// Package config loads the configuration of a transfer engine deployment.
//
// Configuration comes from three layers, applied in order:
//
//  1. Built-in defaults (see Default).
//  2. An optional YAML file. ${VAR} references are expanded from the
//     environment before parsing, and fields left out keep their defaults.
//  3. MCUXFER_* environment variables (see ApplyEnvironmentOverrides).
//
// Invalid environment values are logged and ignored, never fatal; an
// invalid file is an error.
//
// # Example file
//
//	engine:
//	  max_tries: 5
//	  attempt_timeout: 2m
//	  retry_delay: 250ms
//	  continue_on_error: true
//	  minimum_native_log_level: warning
//	connection:
//	  failsafe:
//	    max_transmission_size: 23
//	  problematic_devices:
//	    - manufacturer: ${PHONE_VENDOR}
//	      model: Galaxy A5
//	logging:
//	  level: info
//	  format: json
//	simulation:
//	  enabled: true
//	metrics:
//	  enabled: true
//	  listen_address: ":9090"
//
// # Environment variables
//
//   - MCUXFER_USE_SIMULATION: "true" or "false"
//   - MCUXFER_MAX_TRIES: attempts per resource
//   - MCUXFER_ATTEMPT_TIMEOUT: Go duration, "0" disables it
//   - MCUXFER_RETRY_DELAY: Go duration between attempts
//   - MCUXFER_ITEM_DELAY: Go duration between batch items
//   - MCUXFER_GRACEFUL_CANCELLATION_TIMEOUT: Go duration
//   - MCUXFER_CONTINUE_ON_ERROR: "true" or "false"
//   - MCUXFER_LOG_LEVEL: logrus level name
//   - MCUXFER_METRICS_ADDRESS: listen address of the metrics endpoint
package config
