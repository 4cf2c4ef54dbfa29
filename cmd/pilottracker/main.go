package main

import "pilot-tracker/internal/cli"

func main() {
	cli.Execute()
}
