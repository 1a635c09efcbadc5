// Package config loads poolserver settings from YAML or JSON files.
//
// Files are decoded over the struct tag defaults, so fields a file omits keep
// their default while explicit zero values are preserved. Values can then be
// overridden from command-line flags and POOLSERVER_* environment variables
// through a viper instance, and finally converted into runtime types with
// ToServerConfig.
//
// Example YAML:
//
//	server:
//	  addr: 127.0.0.1:8080
//	  io_timeout: 30s
//	  accept_max_delay: 1s
//	pool:
//	  mode: pool        # pool | inline | spawn
//	  workers: 4
//	  queue_capacity: 0 # 0 = unbounded
//	routes:
//	  sleep: 5s
//	admin:
//	  addr: 127.0.0.1:9090
//	log:
//	  level: info
package config
