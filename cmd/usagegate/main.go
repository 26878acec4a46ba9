// Package main is the entry point for usagegate.
package main

func main() {
	Execute()
}
