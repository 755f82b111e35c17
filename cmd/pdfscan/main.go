// Command pdfscan prints the low-level layout of a PDF file: header,
// end-of-file markers, cross-reference summary, leading tokens and,
// optionally, the structure tree.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/wudi/pdfkernel/document"
	"github.com/wudi/pdfkernel/observability"
	"github.com/wudi/pdfkernel/scanner"
	"github.com/wudi/pdfkernel/source"
	"github.com/wudi/pdfkernel/tagging"
	"github.com/wudi/pdfkernel/xref"
)

type options struct {
	pdfPath   string
	forceRead bool
	tokens    int
	tags      bool
	verbose   bool
}

func main() {
	opts, err := parseFlags()
	if err != nil {
		fmt.Fprintf(os.Stderr, "pdfscan: %v\n", err)
		os.Exit(2)
	}
	if err := run(context.Background(), opts, os.Stdout); err != nil {
		fmt.Fprintf(os.Stderr, "pdfscan: %v\n", err)
		os.Exit(1)
	}
}

func parseFlags() (options, error) {
	var opts options
	flag.Usage = func() {
		fmt.Fprintf(flag.CommandLine.Output(), "Usage: pdfscan [flags] <pdf>\n")
		flag.PrintDefaults()
	}
	flag.BoolVar(&opts.forceRead, "force-read", false, "Read the file into memory instead of mapping it")
	flag.IntVar(&opts.tokens, "tokens", 20, "Number of leading tokens to print")
	flag.BoolVar(&opts.tags, "tags", false, "Print the structure tree")
	flag.BoolVar(&opts.verbose, "v", false, "Log warnings to stderr")
	flag.Parse()
	if flag.NArg() != 1 {
		flag.Usage()
		return opts, errors.New("expected exactly one PDF path")
	}
	opts.pdfPath = flag.Arg(0)
	return opts, nil
}

func (o options) logger() observability.Logger {
	if !o.verbose {
		return observability.NopLogger{}
	}
	return observability.NewSlogLogger(slog.New(slog.NewTextHandler(os.Stderr, nil)))
}

func run(ctx context.Context, opts options, w io.Writer) error {
	factory := source.Factory{ForceRead: opts.forceRead, Logger: opts.logger()}
	src, err := factory.FromFile(opts.pdfPath)
	if err != nil {
		return err
	}
	defer src.Close()

	tok := scanner.New(src, scanner.Config{Logger: opts.logger()})
	off, err := tok.HeaderOffset()
	if err != nil {
		return err
	}
	fmt.Fprintf(w, "length: %d\n", src.Length())
	fmt.Fprintf(w, "header offset: %d\n", off)
	body := src
	if off > 0 {
		if body, err = source.NewWindowSource(src, off, src.Length()-off); err != nil {
			return err
		}
		tok = scanner.New(body, scanner.Config{Logger: opts.logger()})
	}
	version, err := tok.CheckPDFHeader()
	if err != nil {
		return err
	}
	fmt.Fprintf(w, "version: %s\n", strings.TrimPrefix(version, "PDF-"))

	eofs, err := tok.EOFOffsets()
	if err != nil {
		return err
	}
	fmt.Fprintf(w, "eof markers: %v\n", eofs)

	if err := printXRef(ctx, body, opts, w); err != nil {
		fmt.Fprintf(w, "xref: %v\n", err)
	}
	if err := printTokens(tok, opts.tokens, w); err != nil {
		return err
	}
	if opts.tags {
		return printTags(ctx, opts, w)
	}
	return nil
}

func printXRef(ctx context.Context, src source.ByteSource, opts options, w io.Writer) error {
	res := xref.NewResolver(xref.ResolverConfig{Logger: opts.logger()})
	table, err := res.Resolve(ctx, src)
	if err != nil {
		return err
	}
	fmt.Fprintf(w, "xref: %s, %d objects, size %d, %d sections, startxref %d\n",
		table.Type(), len(table.Objects()), table.Size(), len(res.Incremental()), table.StartXRef())
	if tr := table.Trailer(); tr != nil {
		fmt.Fprintf(w, "trailer keys: %s\n", strings.Join(tr.SortedKeys(), " "))
	}
	return nil
}

func printTokens(tok *scanner.Tokenizer, n int, w io.Writer) error {
	if n <= 0 {
		return nil
	}
	if err := tok.Seek(0); err != nil {
		return err
	}
	for i := 0; i < n; i++ {
		t, err := tok.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			fmt.Fprintf(w, "ERR: %v\n", err)
			break
		}
		fmt.Fprintf(w, "%d@%d %s %q\n", i, t.Pos, t.Type, tokenText(t))
	}
	return nil
}

func tokenText(t scanner.Token) string {
	switch t.Type {
	case scanner.TokenRef:
		return fmt.Sprintf("%d %d R", t.Int, t.Gen)
	case scanner.TokenString:
		return string(t.Bytes)
	case scanner.TokenKeyword, scanner.TokenName:
		return t.Str
	}
	return string(t.Raw)
}

func printTags(ctx context.Context, opts options, w io.Writer) error {
	doc, err := document.OpenFile(ctx, opts.pdfPath, document.Config{
		Source: source.Factory{ForceRead: opts.forceRead},
		Logger: opts.logger(),
	})
	if err != nil {
		return err
	}
	defer doc.Close()
	tree, err := tagging.Load(doc)
	if errors.Is(err, tagging.ErrNotTagged) {
		fmt.Fprintln(w, "structure tree: none")
		return nil
	}
	if err != nil {
		return err
	}
	fmt.Fprintln(w, "structure tree:")
	printNode(tree, tagging.RootID, 0, w)
	return nil
}

func printNode(tree *tagging.Context, id tagging.NodeID, depth int, w io.Writer) {
	mcrs := 0
	for _, k := range tree.Kids(id) {
		if k.Kind == tagging.KidElem {
			continue
		}
		mcrs++
	}
	if id != tagging.RootID {
		fmt.Fprintf(w, "%s%s", strings.Repeat("  ", depth), tree.Role(id))
		if mcrs > 0 {
			fmt.Fprintf(w, " (%d refs)", mcrs)
		}
		fmt.Fprintln(w)
		depth++
	}
	for _, k := range tree.Kids(id) {
		if k.Kind == tagging.KidElem {
			printNode(tree, k.Elem, depth, w)
		}
	}
}
