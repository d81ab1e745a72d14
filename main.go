package main

import "go-attendance-agent/cmd"

func main() {
	cmd.Execute()
}
