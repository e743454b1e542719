package main

import "github.com/mselser95/updown-pairs/cmd"

func main() {
	cmd.Execute()
}
