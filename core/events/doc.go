// Package events defines the market lifecycle events published on the node's
// event bus. Metrics sinks and other observers consume them without coupling
// to the market core.
package events
