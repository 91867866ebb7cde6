package main

import (
	_ "go.uber.org/automaxprocs"

	"github.com/autopeer-io/devicelink/cmd/cpeer-device-agent/app"
)

func main() {
	app.NewApp().Run()
}
