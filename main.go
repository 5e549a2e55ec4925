package main

import "github.com/jywlabs/drover/cmd"

func main() {
	cmd.Execute()
}
