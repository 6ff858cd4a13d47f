package main

import "tuition-payflow/internal/cli"

func main() {
	cli.Execute()
}
