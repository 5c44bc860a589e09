// Package config handles loading and validating thermolink core configuration.
//
// This package manages:
//   - Loading configuration from YAML files
//   - Loading a local .env file into the environment
//   - Overriding with THERMOLINK_* environment variables
//   - Validation of required fields
//
// Security Considerations:
//   - Broker passwords, InfluxDB tokens and the JWT secret should come from the environment
//   - The config file should have restricted permissions (0600)
//
// Usage:
//
//	cfg, err := config.Load("configs/config.yaml")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	fmt.Println(cfg.MQTT.Broker.Host)
package config
