// Package config loads the YAML configuration of agentrelayd.
//
// Values of the form ${VAR} or ${VAR:-default} are expanded from the
// environment before decoding. Durations use Go syntax ("30s", "5m").
// Parse applies defaults; Validate reports all mistakes joined together.
package config
