package main

//go-build: CGO_ENABLED=0

import (
	"github.com/robotalks/fota.go/pkg/bench"
	"github.com/robotalks/fota.go/pkg/cli/sh"
	"github.com/robotalks/fota.go/pkg/esp"
	"github.com/robotalks/fota.go/pkg/fota"
)

func init() {
	bench.SetupFlags()
	esp.SetupFlags()
	fota.SetupFlags()
}

func main() {
	sh.Main()
}
