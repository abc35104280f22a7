package main

import (
	"fmt"

	"github.com/andydunstall/gossipd/cli"
)

func main() {
	if err := cli.Start(); err != nil {
		fmt.Println(err)
	}
}
