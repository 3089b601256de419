package main

import "southwinds.dev/keyvault/cli/cmd"

func main() {
	cmd.Execute()
}
