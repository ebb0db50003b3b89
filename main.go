package main

import (
	"github.com/Champsson/Kooler-Agent/cmd"
	_ "github.com/Champsson/Kooler-Agent/pkg/logger/autoload"
)

func main() {
	cmd.Execute()
}
