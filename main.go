package main

import (
	"os"

	"find-replace/app"
)

func main() {
	os.Exit(app.Execute())
}
