// Package main provides the entry point for the convcache CLI.
package main

import (
	"github.com/colthorp/convcache-go/internal/cli"
)

func main() {
	cli.Execute()
}
