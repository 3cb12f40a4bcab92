package main

import (
	"os"

	"lore.fm/arcs/internal/app"
)

func main() {
	os.Exit(app.Run(os.Args[1:]))
}
