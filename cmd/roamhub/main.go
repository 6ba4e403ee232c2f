package main

import (
	_ "go.uber.org/automaxprocs"

	"github.com/roamhub-io/roamhub/cmd/roamhub/app"
)

func main() {
	app.NewApp().Run()
}
