package api

import (
	"strconv"

	"github.com/colthorp/convcache-go/internal/core"
)

// ConversationAPI provides a typed convenience layer over the REST API.
type ConversationAPI struct {
	transport Transport
	verbose   bool
}

// NewConversationAPI creates a high-level client over the given transport.
func NewConversationAPI(transport Transport) *ConversationAPI {
	a := &ConversationAPI{transport: transport}
	if c, ok := transport.(*Client); ok {
		a.verbose = c.IsVerbose()
	}
	return a
}

// ConversationOptions selects which conversations to fetch.
type ConversationOptions struct {
	Owner      string
	Date       string // YYYY-MM-DD
	Limit      int    // page size; 0 uses the default
	MaxResults int    // cap on total items yielded; 0 is unbounded
	Direction  string // asc or desc
}

// Paginate yields conversation items across paginated responses,
// transparently following the "nextCursor" mechanics.
func (a *ConversationAPI) Paginate(endpoint string, params map[string]string, maxResults int) <-chan map[string]interface{} {
	ch := make(chan map[string]interface{})

	go func() {
		defer close(ch)

		currentParams := make(map[string]string)
		for k, v := range params {
			currentParams[k] = v
		}

		cursor := ""
		if c, ok := currentParams["cursor"]; ok {
			cursor = c
			delete(currentParams, "cursor")
		}

		fetched := 0

		for {
			if cursor != "" {
				currentParams["cursor"] = cursor
			}

			data, err := a.transport.Request(endpoint, currentParams)
			if err != nil {
				core.Eprint("[API] Pagination error: "+err.Error(), a.verbose)
				return
			}

			// Extract conversations
			var items []interface{}
			if dataSection, ok := data["data"].(map[string]interface{}); ok {
				if convs, ok := dataSection["conversations"].([]interface{}); ok {
					items = convs
				}
			}

			// Extract cursor
			cursor = ""
			if meta, ok := data["meta"].(map[string]interface{}); ok {
				if convMeta, ok := meta["conversations"].(map[string]interface{}); ok {
					if nc, ok := convMeta["nextCursor"].(string); ok && nc != "" {
						cursor = nc
					}
				}
			}

			if len(items) == 0 {
				break
			}

			for _, item := range items {
				if maxResults > 0 && fetched >= maxResults {
					return
				}
				if m, ok := item.(map[string]interface{}); ok {
					ch <- m
					fetched++
				}
			}

			if cursor == "" || (maxResults > 0 && fetched >= maxResults) {
				break
			}
		}
	}()

	return ch
}

// FetchConversations yields conversations matching the options.
func (a *ConversationAPI) FetchConversations(opts ConversationOptions) <-chan map[string]interface{} {
	params := make(map[string]string)

	if opts.Owner != "" {
		params["owner"] = opts.Owner
	}
	if opts.Date != "" {
		params["date"] = opts.Date
	}
	if opts.Limit > 0 {
		params["limit"] = strconv.Itoa(opts.Limit)
	} else {
		params["limit"] = strconv.Itoa(core.PageLimit)
	}
	if opts.Direction != "" {
		params["direction"] = opts.Direction
	}

	return a.Paginate("conversations", params, opts.MaxResults)
}

// IsVerbose returns whether verbose logging is enabled.
func (a *ConversationAPI) IsVerbose() bool {
	return a.verbose
}

// GetTransport returns the underlying transport.
func (a *ConversationAPI) GetTransport() Transport {
	return a.transport
}
