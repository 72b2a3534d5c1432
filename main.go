package main

import "jrpc/cmd"

func main() {
	cmd.Execute()
}
