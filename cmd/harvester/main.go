// Package main is the harvester binary entry point.
package main

import (
	"github.com/partvault/datasheet-harvester/internal/cli"
)

func main() {
	cli.Execute()
}
