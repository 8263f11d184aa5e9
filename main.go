package main

import "github.com/krau/wabot/cmd"

func main() {
	cmd.Execute()
}
