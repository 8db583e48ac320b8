package main

import (
	"github.com/luma/protoip/cmd"
)

func main() {
	cmd.Execute()
}
