package main

import "github.com/tessro/encore/internal/cli"

func main() {
	cli.Execute()
}
