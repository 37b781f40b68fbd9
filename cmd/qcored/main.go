package main

import "github.com/qinfinity/qcored/internal/cli"

func main() {
	cli.Execute()
}
