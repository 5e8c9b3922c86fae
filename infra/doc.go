// Package infra holds the adapters behind the dispatch core: order stores,
// the MQTT offer gateway, the route solver client, the run lock and the
// metrics exporters.
package infra
