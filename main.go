package main

import (
	"github.com/relaymux/mux/cmd/mux"
)

func main() {
	mux.Execute()
}
