package internal

import (
	"bufio"
	"encoding/hex"
	"fmt"
	"io"
	"strings"

	"github.com/go-git/go-git/v5/plumbing"
)

// ParseHash decodes one hex-encoded object id, rejecting anything that is
// not exactly one full-width hash.
func ParseHash(s string) (plumbing.Hash, error) {
	var h plumbing.Hash
	if len(s) != hex.EncodedLen(len(h)) {
		return h, fmt.Errorf("%w: %q", ErrMalformedID, s)
	}
	if _, err := hex.Decode(h[:], []byte(s)); err != nil {
		return h, fmt.Errorf("%w: %q", ErrMalformedID, s)
	}
	return h, nil
}

// Serve runs the backend lookup loop: one content id per input line, one
// line of space-separated owning commit ids per output line, blank when the
// content is unknown. Exactly one output line per input line, in input
// order, flushed per line so the loop composes with interactive callers.
// The protocol guarantees well-formed input, so a malformed line is fatal
// for the whole run rather than skipped.
func Serve(idx *Index, r io.Reader, w io.Writer) error {
	in := bufio.NewScanner(r)
	in.Buffer(make([]byte, 0, 256), 1024*1024)
	out := bufio.NewWriter(w)

	lineNo := 0
	for in.Scan() {
		lineNo++
		// Tolerate CRLF input, nothing else: any other surrounding
		// whitespace makes the identifier malformed.
		line := strings.TrimSuffix(in.Text(), "\r")

		blob, err := ParseHash(line)
		if err != nil {
			return fmt.Errorf("line %d: %w", lineNo, err)
		}

		commits := idx.Contents.Lookup(blob)
		for i, c := range commits {
			if i > 0 {
				if err := out.WriteByte(' '); err != nil {
					return fmt.Errorf("write result: %w", err)
				}
			}
			if _, err := out.WriteString(c.String()); err != nil {
				return fmt.Errorf("write result: %w", err)
			}
		}
		if err := out.WriteByte('\n'); err != nil {
			return fmt.Errorf("write result: %w", err)
		}
		if err := out.Flush(); err != nil {
			return fmt.Errorf("flush result: %w", err)
		}
	}
	if err := in.Err(); err != nil {
		return fmt.Errorf("read queries: %w", err)
	}
	return nil
}
