// Package config provides configuration management for the council orchestrator.
//
// Configuration is loaded from environment variables using the env package.
// All configuration values have defaults suitable for development against a
// council backend on localhost.
//
// Example usage:
//
//	cfg, err := config.Load()
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	fmt.Printf("HTTP server will listen on %s\n", cfg.GetHTTPAddr())
package config
