// Package config loads and persists the gateway's single backends.json
// configuration file: a map of backend definitions plus a settings block,
// with unknown keys preserved across a load-then-save round trip.
package config
