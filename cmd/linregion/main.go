// Package main provides the linregion CLI.
//
// linregion builds a random stack of convolutions, propagates the affine map
// from the input through every layer and checks it against the real layer
// outputs. The graphs can be saved to a SafeTensors file and inspected
// later.
package main

import (
	"flag"
	"fmt"
	"os"

	"k8s.io/klog/v2"
)

const version = "v0.1.0-dev"

func usage() {
	out := flag.CommandLine.Output()
	fmt.Fprintf(out, "linregion %s - affine maps of convolution stacks\n\n", version)
	fmt.Fprintln(out, "Usage: linregion [global flags] <command> [flags]")
	fmt.Fprintln(out, "")
	fmt.Fprintln(out, "Commands:")
	fmt.Fprintln(out, "  version    Show version")
	fmt.Fprintln(out, "  check      Propagate through a random stack and compare with the real outputs")
	fmt.Fprintln(out, "  inspect    Describe the graphs saved by 'check -save'")
	fmt.Fprintln(out, "")
	fmt.Fprintln(out, "Global flags:")
	flag.PrintDefaults()
}

func main() {
	klog.InitFlags(nil)
	flag.Usage = usage
	flag.Parse()

	args := flag.Args()
	if len(args) == 0 {
		usage()
		os.Exit(2)
	}

	switch args[0] {
	case "version":
		fmt.Printf("linregion %s\n", version)
	case "check":
		cfg, err := parseCheckFlags(args[1:])
		if err != nil {
			klog.Errorf("check: %v", err)
			os.Exit(2)
		}
		reports, err := runCheck(cfg)
		if err != nil {
			klog.Errorf("check: %+v", err)
			os.Exit(1)
		}
		fmt.Println(renderReport(cfg, reports))
		if cfg.save != "" {
			if err := saveGraphs(cfg, reports); err != nil {
				klog.Errorf("check: %+v", err)
				os.Exit(1)
			}
		}
		if failed := countFailures(reports, cfg.tol); failed > 0 {
			klog.Errorf("%d of %d layers exceed tolerance %g", failed, len(reports), cfg.tol)
			os.Exit(1)
		}
	case "inspect":
		out, err := runInspect(args[1:])
		if err != nil {
			klog.Errorf("inspect: %+v", err)
			os.Exit(1)
		}
		fmt.Println(out)
	default:
		klog.Errorf("unknown command %q. See 'linregion -help'.", args[0])
		os.Exit(2)
	}
}
