package main

import "github.com/JakeFAU/numberwatch/cmd"

func main() {
	cmd.Execute()
}
