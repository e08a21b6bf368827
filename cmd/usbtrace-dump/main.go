// Command usbtrace-dump decodes a LINKTYPE_USB_2_0 pcap capture into its
// packet/transaction/transfer hierarchy and prints every row, fully
// expanded, one per line.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/nodalsys/usbtrace/capture"
	"github.com/nodalsys/usbtrace/decode"
	"github.com/nodalsys/usbtrace/treemodel"
	"github.com/nodalsys/usbtrace/usbids"
)

var verbose = flag.Bool("v", false, "enable debug-level logging")

func main() {
	flag.Parse()
	if flag.NArg() != 1 {
		fmt.Fprintln(os.Stderr, "usage: usbtrace-dump [-v] <capture.pcap>")
		os.Exit(2)
	}

	log := logrus.StandardLogger()
	if *verbose {
		log.SetLevel(logrus.DebugLevel)
	}

	if err := run(flag.Arg(0), log); err != nil {
		log.WithError(err).Fatal("usbtrace-dump failed")
	}
}

func run(path string, log *logrus.Logger) error {
	if err := usbids.Default.LoadSystem(); err != nil {
		log.WithError(err).Debug("no system usb.ids database found, using built-in names")
	}

	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	reader, err := newPCAPReader(f)
	if err != nil {
		return err
	}

	store, err := capture.New(log)
	if err != nil {
		return fmt.Errorf("capture.New: %w", err)
	}
	defer store.Close()

	dec := decode.New(reader, store, log)
	if err := dec.Run(context.Background()); err != nil {
		return fmt.Errorf("decode: %w", err)
	}

	model, err := treemodel.New(store)
	if err != nil {
		return fmt.Errorf("treemodel.New: %w", err)
	}
	return dumpAll(model, store, os.Stdout)
}

// dumpAll walks every row of model, expanding each node the moment it is
// visited so the newly inserted children are picked up by the same loop on
// the next iteration — a full depth-first traversal driven entirely by
// NItems growing as the walk proceeds.
func dumpAll(model *treemodel.Model, store *capture.Store, w io.Writer) error {
	for pos := uint64(0); pos < model.NItems(); pos++ {
		node, err := model.Get(pos)
		if err != nil {
			return fmt.Errorf("Get(%d): %w", pos, err)
		}

		text, err := node.Text(store)
		if err != nil {
			return fmt.Errorf("Text at position %d: %w", pos, err)
		}
		conn, err := node.Connectors(store)
		if err != nil {
			return fmt.Errorf("Connectors at position %d: %w", pos, err)
		}
		fmt.Fprintf(w, "%s%s%s\n", strings.Repeat("  ", node.Depth()), conn, text)

		if err := model.SetExpanded(node, true); err != nil {
			return fmt.Errorf("SetExpanded at position %d: %w", pos, err)
		}
	}
	return nil
}
