package main

import "github.com/samsaffron/storyloom/cmd"

func main() {
	cmd.Execute()
}
