package main

import "github.com/vibast-solutions/ms-go-payment-retries/cmd"

func main() {
	cmd.Execute()
}
