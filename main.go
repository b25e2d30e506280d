package main

import "github.com/espejodata/espejo/cmd"

func main() {
	cmd.Execute()
}
