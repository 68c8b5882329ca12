// Package notifications delivers pipeline events via pluggable notifiers.
//
// The default implementation publishes to ntfy using the topic configured in
// config.toml, or the alert destination stored in the automation settings when
// one is set, and degrades to a no-op when neither is configured. Delivery is
// best-effort: callers log a failed publish and carry on.
package notifications
