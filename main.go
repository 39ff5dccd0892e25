// Repairs mangled email/patch files in place: drops the leading blank line,
// rejoins wrapped header lines (Subject:, Cc: ...) and collapses doubled CRLFs in hunks.
package main

import (
	"flag"

	"fortio.org/cli"
	"fortio.org/log"
	"github.com/ldemailly/fixpatch/repair"
)

func main() {
	cli.ArgsHelp = "file1 [file2...]" // files to fix in place
	cli.MinArgs = 1
	cli.MaxArgs = -1
	cli.Main()

	if err := run(flag.Args()); err != nil {
		log.Fatalf("%v", err)
	}
	log.Infof("Done.")
}

// run checks every file before rewriting any of them, then fixes them in order.
// The first error stops the run.
func run(files []string) error {
	// Same as opening every file up front: a bad path aborts before anything is rewritten.
	for _, filename := range files {
		if err := repair.CheckAccess(filename); err != nil {
			return err
		}
	}
	for _, filename := range files {
		log.LogVf("Processing file: %s", filename)
		res, err := repair.RewriteFile(filename)
		if err != nil {
			return err
		}
		if res.Changed {
			log.Infof("Fixed %s: %d -> %d bytes", res.Path, res.Before, res.After)
		} else {
			log.Infof("No change for %s", res.Path)
		}
	}
	return nil
}
