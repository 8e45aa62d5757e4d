// Package config loads the image server's settings.
//
// Settings come from, in order of precedence:
//   - command line flags
//   - IMGSRV_* environment variables (IMGSRV_QUEUE_SIZE, IMGSRV_MQTT_BROKER, ...)
//   - an optional YAML file named by --config
//   - built-in defaults
//
// The listening port is the single positional argument, or the "port" key
// when no argument is given.
package config
