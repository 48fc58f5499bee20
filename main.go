package main

import "botserver/cmd"

func main() {
	cmd.Execute()
}
