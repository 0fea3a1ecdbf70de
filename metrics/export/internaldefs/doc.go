// Package internaldefs maps engine metric IDs onto exported families so the
// Prometheus and OTel exporters publish the same series. Each login, reset
// and share-code flow is one family split by an outcome label.
package internaldefs
