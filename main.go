package main

import "scholarqa/cmd"

func main() {
	cmd.Execute()
}
