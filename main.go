package main

import "github.com/edgeflare/mimir/cmd/mimir"

func main() {
	mimir.Main()
}
