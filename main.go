package main

import "workwatch/cmd"

func main() {
	cmd.Execute()
}
