package main

import "audio-extract/cmd"

func main() {
	cmd.Execute()
}
