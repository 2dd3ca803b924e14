package main

import (
	"UsefulTimer/cmd"
)

func main() {
	cmd.Execute()
}
