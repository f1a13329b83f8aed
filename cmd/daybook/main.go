package main

import "github.com/daybook-app/daybook/cmd/daybook/cmd"

func main() {
	cmd.Execute()
}
