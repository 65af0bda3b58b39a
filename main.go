/*
Copyright © 2026 Roman Natson <romnatson3@gmail.com>
*/
package main

import (
	"github.com/romnatson3/copy-trade/cmd"
)

func main() {
	cmd.Execute()
}
