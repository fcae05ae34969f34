// Command drawbot runs the prize-draw registration bot.
package main

import (
	"log"

	corecmd "github.com/m3rciful/drawbot/core/cmd"
	"github.com/m3rciful/drawbot/internal/app"
)

func main() {
	err := corecmd.Run(corecmd.Options{
		DefaultConfigPath: "config/config.yaml",
		LoadConfig: func(path string) (corecmd.ConfigCarrier, error) {
			return app.Load(path)
		},
		Bootstrap: app.Bootstrap,
	})
	if err != nil {
		log.Fatal(err)
	}
}
