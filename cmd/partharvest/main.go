package main

import (
	"context"

	"github.com/use-agent/partharvest/cmd/partharvest/commands"
)

func main() {
	commands.ExecuteContext(context.Background())
}
