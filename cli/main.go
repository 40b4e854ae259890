package main

import "github.com/essamgouda97/pdf-secure/cli/cmd"

func main() {
	cmd.Execute()
}
