package main

import (
	_ "time/tzdata" // zone database for --tz

	"github.com/ijg0341/vibe-review-sub000/internal/cli"
)

var version = "dev"

func main() {
	cli.Execute(version)
}
