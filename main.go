package main

import "github.com/coder/hopperapi/cmd"

func main() {
	cmd.Execute()
}
