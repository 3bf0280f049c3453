package main

import "github.com/slurmgate/slurmgate/cmd"

func main() {
	cmd.Execute()
}
