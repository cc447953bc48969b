package main

import "github.com/specmem/specmem/cmd"

func main() {
	cmd.Execute()
}
