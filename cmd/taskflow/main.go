package main

import "github.com/warriorguo/taskflow/cli"

func main() {
	cli.Execute()
}
