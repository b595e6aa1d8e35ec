package main

import "github.com/JakeFAU/docsearch-stager/cmd"

func main() {
	cmd.Execute()
}
