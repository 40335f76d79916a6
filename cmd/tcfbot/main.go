package main

import "github.com/example/tcfbot/cmd"

func main() {
	cmd.Execute()
}
