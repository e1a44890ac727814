// Package main is the entry point of the kcore command.
package main

import "github.com/sarchlab/kcore/kcore/cmd"

func main() {
	cmd.Execute()
}
