// Package watch drives the extension build loop. It monitors the build
// context for changes, debounces rapid events, runs the build, and reports
// each cycle to the live-reload host.
package watch
