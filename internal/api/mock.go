package api

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// InMemoryTransport is a lightweight simulation of the conversations API.
// Only implements the /conversations endpoint sufficient for unit tests.
type InMemoryTransport struct {
	conversations []map[string]interface{}
	RequestLog    []RequestLogEntry
}

// RequestLogEntry records a request made to the transport.
type RequestLogEntry struct {
	Endpoint string
	Params   map[string]string
}

// NewInMemoryTransport creates a new in-memory transport for testing.
func NewInMemoryTransport() *InMemoryTransport {
	return &InMemoryTransport{
		conversations: make([]map[string]interface{}, 0),
		RequestLog:    make([]RequestLogEntry, 0),
	}
}

// Seed adds one or more conversation objects to the in-memory store.
func (t *InMemoryTransport) Seed(convs ...map[string]interface{}) {
	t.conversations = append(t.conversations, convs...)
}

// RequestsMade returns the number of requests made to this transport.
func (t *InMemoryTransport) RequestsMade() int {
	return len(t.RequestLog)
}

// Reset clears all stored conversations and recorded requests.
func (t *InMemoryTransport) Reset() {
	t.conversations = make([]map[string]interface{}, 0)
	t.RequestLog = make([]RequestLogEntry, 0)
}

// Request simulates a low-level API request (conversations only).
func (t *InMemoryTransport) Request(endpoint string, params map[string]string) (map[string]interface{}, error) {
	// Track the call for assertions in unit tests
	t.RequestLog = append(t.RequestLog, RequestLogEntry{
		Endpoint: endpoint,
		Params:   copyParams(params),
	})

	if !strings.HasPrefix(endpoint, "conversations") {
		return map[string]interface{}{}, nil
	}

	subset := make([]map[string]interface{}, len(t.conversations))
	copy(subset, t.conversations)

	// Filter by owner
	if owner, ok := params["owner"]; ok && owner != "" {
		filtered := make([]map[string]interface{}, 0)
		for _, conv := range subset {
			if o, _ := conv["owner"].(string); o == owner {
				filtered = append(filtered, conv)
			}
		}
		subset = filtered
	}

	// Filter by date
	if dateStr, ok := params["date"]; ok && dateStr != "" {
		filtered := make([]map[string]interface{}, 0)
		for _, conv := range subset {
			d := getConvDate(conv)
			if len(d) >= 10 && d[:10] == dateStr {
				filtered = append(filtered, conv)
			}
		}
		subset = filtered
	}

	// Sort by date
	direction := params["direction"]
	if direction == "" {
		direction = "desc"
	}
	sort.SliceStable(subset, func(i, j int) bool {
		di := getConvDate(subset[i])
		dj := getConvDate(subset[j])
		if direction == "desc" {
			return di > dj
		}
		return di < dj
	})

	// Pagination
	limit := 3
	if l, ok := params["limit"]; ok && l != "" {
		if parsed, err := strconv.Atoi(l); err == nil {
			limit = parsed
		}
	}

	startIdx := 0
	if cursor, ok := params["cursor"]; ok && cursor != "" {
		if idx, err := strconv.Atoi(cursor); err == nil {
			startIdx = idx
		}
	}

	endIdx := startIdx + limit
	if endIdx > len(subset) {
		endIdx = len(subset)
	}

	page := subset[startIdx:endIdx]

	var nextCursor interface{}
	if endIdx < len(subset) {
		nextCursor = fmt.Sprintf("%d", endIdx)
	}

	return map[string]interface{}{
		"data": map[string]interface{}{
			"conversations": toInterfaceSlice(page),
		},
		"meta": map[string]interface{}{
			"conversations": map[string]interface{}{
				"nextCursor": nextCursor,
				"count":      len(page),
			},
		},
	}, nil
}

// getConvDate extracts the date string from a conversation entry.
func getConvDate(conv map[string]interface{}) string {
	if d, ok := conv["date"].(string); ok && d != "" {
		return d
	}
	if d, ok := conv["startedAt"].(string); ok && d != "" {
		return d
	}
	return ""
}

// copyParams creates a copy of the params map.
func copyParams(params map[string]string) map[string]string {
	result := make(map[string]string)
	for k, v := range params {
		result[k] = v
	}
	return result
}

// toInterfaceSlice converts a slice of maps to a slice of interfaces.
func toInterfaceSlice(convs []map[string]interface{}) []interface{} {
	result := make([]interface{}, len(convs))
	for i, conv := range convs {
		result[i] = conv
	}
	return result
}
