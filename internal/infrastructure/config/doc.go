// Package config loads and validates health-core configuration.
//
// Loading order, later steps overriding earlier ones:
//  1. built-in defaults
//  2. the YAML file
//  3. a .env file in the working directory, if present (never overrides
//     variables already set in the process environment)
//  4. FH_* environment variables
//
// Secrets (the token signing secret, MQTT and InfluxDB credentials, the
// bootstrap admin password) should come from the environment.
//
// Usage:
//
//	cfg, err := config.Load("configs/config.yaml")
//	if err != nil {
//	    return err
//	}
//	authCfg := cfg.Auth()
package config
