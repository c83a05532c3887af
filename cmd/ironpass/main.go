package main

import "github.com/jmcleod/ironpass/cmd/ironpass/cmd"

func main() {
	cmd.Execute()
}
