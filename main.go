package main

import "github.com/guardbook/guardbook/cmd"

func main() {
	cmd.Execute()
}
