// Command jobqueue runs the in-process job queue behind an HTTP API.
package main

import (
	"github.com/nimburion/jobqueue/pkg/cli"
)

func main() {
	cli.Execute(cli.NewRootCommand(cli.Options{
		Name:             "jobqueue",
		Description:      "In-process job queue with retries and admission control",
		EnvPrefix:        "JOBQUEUE",
		RegisterHandlers: registerBuiltinHandlers,
	}))
}
