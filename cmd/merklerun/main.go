package main

import "github.com/ppiankov/merklerun/internal/cli"

func main() {
	cli.Execute()
}
