package main

import "github.com/novi-app/attention/cmd"

func main() {
	cmd.Execute()
}
