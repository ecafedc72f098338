package ansicolor

import (
	"os"
	"runtime"
)

// Escape codes used by the pretty log writer. All of them are blanked when
// the terminal can't be expected to render them.

var Reset = "\033[0m"
var Bold = "\033[1m"

var Red = "\033[31m"
var Green = "\033[32m"
var Blue = "\033[34m"
var Gray = "\033[37m"

var BgRed = "\033[41m"
var BgYellow = "\033[43m"
var BgBlue = "\033[44m"

func init() {
	if runtime.GOOS == "windows" || os.Getenv("NO_COLOR") != "" {
		Disable()
	}
}

func Disable() {
	Reset = ""
	Bold = ""
	Red = ""
	Green = ""
	Blue = ""
	Gray = ""
	BgRed = ""
	BgYellow = ""
	BgBlue = ""
}
