package main

import "forgescan/scan-engine/internal/cli"

func main() {
	cli.Execute()
}
