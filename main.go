package main

import "github.com/abasto-labs/marketplace-auth/cmd"

func main() {
	cmd.Execute()
}
