package main

import (
	"log"

	"github.com/junyoung-robin-kim/openclaw-pwa-chat/internal/app"
)

func main() {
	if err := app.Run(); err != nil {
		log.Fatal(err)
	}
}
