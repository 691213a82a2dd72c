package main

import (
	"github.com/joho/godotenv"

	"github.com/webink/webink/cmd/webink"
)

func main() {
	_ = godotenv.Load()
	webink.Execute()
}
