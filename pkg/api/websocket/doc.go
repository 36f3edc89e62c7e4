// Package websocket streams execution events to clients. Each connection
// follows one execution and is closed once the execution ends.
package websocket
