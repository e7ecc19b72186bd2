package observability

import (
	"fmt"
	"os"
	"strings"
	"sync"

	"golang.org/x/term"
)

const (
	colorReset    = "\033[0m"
	colorNeonCyan = "\033[96m"
)

// termMu synchronizes terminal output so concurrent log writes never
// interleave mid-line.
var termMu sync.Mutex

func termWidth() int {
	w, _, err := term.GetSize(int(os.Stdout.Fd()))
	if err != nil {
		return 80
	}
	return w
}

// termWriter is a mutex-guarded io.Writer for log output.
type termWriter struct{}

func (tw termWriter) Write(p []byte) (n int, err error) {
	termMu.Lock()
	defer termMu.Unlock()
	return os.Stderr.Write(p)
}

// NewTermWriter returns an io.Writer suitable for log.SetOutput().
func NewTermWriter() *termWriter {
	return &termWriter{}
}

// PrintBanner clears the screen and prints the startup banner centered
// to the terminal width.
func PrintBanner() {
	fmt.Print("\033[2J\033[H")

	banner := `
    ___   __  __             __       __
   /   | / /_/ /_____ ______/ /_  ___/ /
  / /| |/ __/ __/ __ '/ ___/ __ \/ _  /
 / ___ / /_/ /_/ /_/ / /__/ / / /  __/
/_/  |_\__/\__/\__,_/\___/_/ /_/\___/

     >> PERSONAL ASSISTANT STACK <<
`

	width := termWidth()
	for _, l := range strings.Split(banner, "\n") {
		padding := (width - len(l)) / 2
		if padding < 0 {
			padding = 0
		}
		fmt.Printf("%s%s%s\n", strings.Repeat(" ", padding), colorNeonCyan+l, colorReset)
	}
}
