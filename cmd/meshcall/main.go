package main

import (
	"github.com/meshcall/meshcall/internal/client/cmd"
)

func main() {
	cmd.Execute()
}
