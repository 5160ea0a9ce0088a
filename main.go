package main

import "github.com/starpos/vmbkp/cmd"

func main() {
	cmd.Execute()
}
