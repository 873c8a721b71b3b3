// Package main implements the dnsmon CLI.
package main

func main() {
	Execute()
}
