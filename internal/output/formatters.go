// Package output provides stdout formatting utilities for convcache.
package output

import (
	"encoding/json"
	"fmt"
	"os"
)

// StreamJSON writes an iterator of JSON-able maps as a compact JSON array.
func StreamJSON(items <-chan map[string]interface{}) {
	fmt.Print("[")
	first := true
	for item := range items {
		if !first {
			fmt.Print(",")
		}
		data, err := json.Marshal(item)
		if err != nil {
			continue
		}
		os.Stdout.Write(data)
		first = false
	}
	fmt.Println("]")
}

// StreamJSONSlice writes a slice of maps as a compact JSON array.
func StreamJSONSlice(items []map[string]interface{}) {
	fmt.Print("[")
	for i, item := range items {
		if i > 0 {
			fmt.Print(",")
		}
		data, err := json.Marshal(item)
		if err != nil {
			continue
		}
		os.Stdout.Write(data)
	}
	fmt.Println("]")
}

// PrintSummaries prints one line per conversation: started time, title, and
// summary when present.
func PrintSummaries(items <-chan map[string]interface{}) {
	for item := range items {
		PrintSummary(item)
	}
}

// PrintSummarySlice prints one line per conversation from a slice.
func PrintSummarySlice(items []map[string]interface{}) {
	for _, item := range items {
		PrintSummary(item)
	}
}

// PrintSummary prints a single conversation as a text line, falling back to
// JSON when no displayable fields exist.
func PrintSummary(item map[string]interface{}) {
	title, _ := item["title"].(string)
	summary, _ := item["summary"].(string)
	started, _ := item["startedAt"].(string)

	switch {
	case title != "" && summary != "":
		fmt.Printf("%s  %s - %s\n", started, title, summary)
	case title != "":
		fmt.Printf("%s  %s\n", started, title)
	default:
		PrintJSON(item)
	}
}

// PrintJSON prints a single item as formatted JSON.
func PrintJSON(item interface{}) {
	data, err := json.MarshalIndent(item, "", "  ")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error encoding JSON: %v\n", err)
		return
	}
	fmt.Println(string(data))
}
