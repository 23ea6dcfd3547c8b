// Package output provides the destinations and formats extreload writes to:
// atomic file writers for build output, a stdout writer, and a registry of
// text/JSON/YAML encoders for reports.
package output
