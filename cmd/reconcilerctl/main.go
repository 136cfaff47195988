package main

import "github.com/vietddude/reconciler/internal/cli"

func main() {
	cli.Execute()
}
