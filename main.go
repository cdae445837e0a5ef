package main

import "feedbackintel/internal/app"

func main() {
	app.Main()
}
