package main

import (
	"os"

	"github.com/ridge/pistonen/server"
)

func main() {
	server.Main(os.Args)
}
