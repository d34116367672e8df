package main

import "github.com/audiolibrelab/speakcapture/cmd"

func main() {
	cmd.Execute()
}
