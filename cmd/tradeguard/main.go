package main

import "github.com/ppiankov/tradeguard/internal/cli"

func main() {
	cli.Execute()
}
