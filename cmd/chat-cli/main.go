package main

import "github.com/vedant-sarda/atorix-chat/cmd/chat-cli/cmd"

func main() {
	cmd.Execute()
}
