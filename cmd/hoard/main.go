package main

import "github.com/hoardfs/hoard/cmd/hoard/cmd"

func main() {
	cmd.Execute()
}
