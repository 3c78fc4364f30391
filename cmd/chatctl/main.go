package main

import "github.com/zhouzirui/citychat/internal/cli"

func main() {
	cli.Execute()
}
