// Package config loads the AgentHub daemon configuration from JSON or YAML
// files, fills in defaults and validates driver selections before any
// backend connection is opened.
package config
