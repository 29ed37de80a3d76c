package main

import "github.com/mselser95/esports-arb/cmd"

func main() {
	cmd.Execute()
}
