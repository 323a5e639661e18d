package main

import "camarbiter/internal/cli"

func main() {
	cli.Execute()
}
