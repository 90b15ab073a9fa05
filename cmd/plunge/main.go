package main

import "github.com/deepnoodle-ai/plunge/cmd/plunge/cli"

func main() {
	cli.Execute()
}
