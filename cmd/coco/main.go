// Package main provides the coco CLI.
package main

import "github.com/mesh-intelligence/coco/internal/cli"

func main() {
	cli.Execute()
}
