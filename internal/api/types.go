// Package api provides the client for the Parley conversation REST API.
package api

// Transport abstracts the low-level request mechanism so tests can swap in
// an in-memory fake.
type Transport interface {
	// Request performs a GET against the endpoint with query params and
	// returns the decoded JSON document.
	Request(endpoint string, params map[string]string) (map[string]interface{}, error)
}
