package main

import "github.com/nicwaller/gelftcp/internal/cmd"

func main() {
	cmd.Execute()
}
