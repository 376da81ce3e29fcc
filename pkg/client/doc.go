// Package client is the Go client for the control service REST API,
// used by the drover CLI. It authenticates with a user certificate and
// speaks HTTPS to the API port.
package client
