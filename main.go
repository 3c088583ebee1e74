package main

import "github.com/dayuer/scenebus/cmd"

func main() {
	cmd.Execute()
}
