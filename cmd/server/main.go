package main

import "github.com/mandaact/backend/internal/cli"

var version = "dev"

func main() {
	cli.Execute(version)
}
