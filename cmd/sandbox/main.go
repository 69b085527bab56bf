package main

import "github.com/layer-3/passport-sandbox/internal/cli"

func main() {
	cli.Execute()
}
