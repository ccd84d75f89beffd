package main

import (
	"os"

	"github.com/AkitaEngineering/Akita-Meshtastic-Delivery-Navigator/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
