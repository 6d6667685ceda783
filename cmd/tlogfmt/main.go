// tlogfmt renders trackmap JSON logs read from stdin as console text.
//
//	trackmap --log-format=json 2>&1 | tlogfmt
package main

import (
	"fmt"
	"os"

	"github.com/ridge/trackmap/tlog"
	"github.com/ridge/trackmap/tlog/formatter"
	"github.com/spf13/pflag"
	"golang.org/x/sys/unix"
)

func main() {
	color := pflag.String("color", "auto", "Colored output (yes|no|auto)")
	pflag.Parse()

	c, err := tlog.ParseColor(*color)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	if err := formatter.Stream(os.Stdin, os.Stdout, c.Enabled(unix.Stdout)); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
