package main

import "github.com/fakeyudi/tasktrail/cmd"

func main() {
	cmd.Execute()
}
