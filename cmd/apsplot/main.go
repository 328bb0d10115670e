package main

import "github.com/you-humble/apsplot/internal/cli"

func main() {
	cli.Execute()
}
