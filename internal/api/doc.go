// Package api implements the JSON control plane: account and session
// endpoints, the media library, broadcast destinations, plan administration,
// broadcast start/stop/status, and the telemetry WebSocket. Handlers resolve
// everything a broadcast needs (media paths, destinations, plan limits) and
// hand the engine a fully described start request.
package api
