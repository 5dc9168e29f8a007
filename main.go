package main

import "github.com/loomlocal/loom/cmd"

func main() {
	cmd.Execute()
}
