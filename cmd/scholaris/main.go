package main

import (
	"github.com/felixgeelhaar/scholaris/adapter/cli"
	"github.com/felixgeelhaar/scholaris/pkg/observability"
)

func main() {
	cli.SetLogger(observability.LoggerFromEnv())
	cli.Execute()
}
