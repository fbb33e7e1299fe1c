package main

import "mealcheck/cmd/scanner/cmd"

func main() {
	cmd.Execute()
}
