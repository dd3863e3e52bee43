package main

import "github.com/audiolibrelab/sdrecord/cmd"

func main() {
	cmd.Execute()
}
