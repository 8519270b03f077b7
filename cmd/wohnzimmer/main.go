package main

import "github.com/musikundkultur/wohnzimmer/cmd/wohnzimmer/cmd"

func main() {
	cmd.Execute()
}
