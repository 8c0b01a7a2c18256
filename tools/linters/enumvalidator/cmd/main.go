package main

import (
	"golang.org/x/tools/go/analysis/singlechecker"

	"payflow.app/resolver/tools/linters/enumvalidator"
)

func main() {
	singlechecker.Main(enumvalidator.Analyzer)
}
