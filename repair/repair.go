// Package repair fixes mangled email/patch buffers: leading blank lines,
// header lines wrapped across a CRLF, and doubled CRLFs inside hunks.
package repair

import (
	"bytes"
	"errors"
	"iter"

	"fortio.org/log"
)

// --- Markers ---
const (
	CR    byte = 0x0d
	LF    byte = 0x0a
	Colon byte = 0x3a
	Space byte = 0x20
)

var (
	// DiffSeparator ends the header block of a patch mail.
	DiffSeparator = []byte("\r\n---")
	// HunkMarker starts the first hunk.
	HunkMarker = []byte("\r\n@@")

	crlfcrlf     = []byte{CR, LF, CR, LF}
	colonCRLF    = []byte{Colon, CR, LF}
	joinedHeader = []byte{Colon, Space}
)

// ErrEmptyInput is returned when nothing but CR/LF bytes (or nothing at all) is left
// after stripping the leading blank lines.
var ErrEmptyInput = errors.New("empty or blank-only input")

// --- End Markers ---

// Buffer runs the three passes in order and returns the repaired bytes.
// in is not modified.
func Buffer(in []byte) ([]byte, error) {
	out := StripLeadingBreaks(in)
	if len(out) == 0 {
		return nil, ErrEmptyInput
	}
	out = UnsplitHeaders(out)
	out = CollapseHunkBreaks(out)
	return out, nil
}

// findMarker returns the offset of the first occurrence of marker and whether it was found.
func findMarker(buf, marker []byte) (int, bool) {
	idx := bytes.Index(buf, marker)
	return idx, idx >= 0
}

func isBreak(b byte) bool {
	return b == CR || b == LF
}

// collect joins segments into a fresh buffer. Passes never grow their input,
// so sizeHint (the input length) is always enough capacity.
func collect(seq iter.Seq[[]byte], sizeHint int) []byte {
	out := make([]byte, 0, sizeHint)
	for seg := range seq {
		out = append(out, seg...)
	}
	return out
}

// StripLeadingBreaks returns in without its leading run of CR/LF bytes.
// The result aliases in.
func StripLeadingBreaks(in []byte) []byte {
	i := 0
	for i < len(in) && isBreak(in[i]) {
		i++
	}
	if i > 0 {
		log.LogVf("Stripped %d leading line break bytes", i)
	}
	return in[i:]
}

// UnsplitHeaders rejoins "Name:\r\nValue" into "Name: Value" before the first DiffSeparator.
func UnsplitHeaders(in []byte) []byte {
	return collect(UnsplitHeadersSegments(in), len(in))
}

// UnsplitHeadersSegments is the segment form of UnsplitHeaders.
//
// The scan is bounded by the separator offset measured before any edit, counted
// in steps of the in-place algorithm: a match consumes 3 input bytes but 2 steps
// (the colon, then the space that replaced the LF). Once the budget is spent
// the rest of the input passes through unchanged, even if the budget ran past
// the (shifted) separator.
func UnsplitHeadersSegments(in []byte) iter.Seq[[]byte] {
	return func(yield func([]byte) bool) {
		limit, found := findMarker(in, DiffSeparator)
		if !found || limit == 0 {
			log.LogVf("No header block before %q, skipping header unsplit", DiffSeparator)
			yield(in)
			return
		}
		budget := limit
		start, p := 0, 0
		joined := 0
		for budget > 0 && p < len(in) {
			if bytes.HasPrefix(in[p:], colonCRLF) {
				if !yield(in[start:p]) || !yield(joinedHeader) {
					return
				}
				joined++
				p += len(colonCRLF)
				start = p
				budget -= 2
				continue
			}
			p++
			budget--
		}
		log.LogVf("Rejoined %d wrapped header lines (separator at %d)", joined, limit)
		yield(in[start:])
	}
}

// CollapseHunkBreaks turns doubled CRLF pairs into single ones from the first HunkMarker on.
func CollapseHunkBreaks(in []byte) []byte {
	return collect(CollapseHunkBreaksSegments(in), len(in))
}

// CollapseHunkBreaksSegments is the segment form of CollapseHunkBreaks.
//
// The scan starts at the first hunk marker, or at the CRLF right before it when
// the marker follows a blank line, so "+++ b/a.c\r\n\r\n@@" loses that blank line.
// Without a hunk marker the pass is skipped and every blank line is kept.
// After a collapse the cursor moves past the kept CR, so the kept pair never
// starts a new match: a run of n CRLF pairs keeps ceil(n/2) of them.
func CollapseHunkBreaksSegments(in []byte) iter.Seq[[]byte] {
	return func(yield func([]byte) bool) {
		p, found := findMarker(in, HunkMarker)
		if !found {
			log.LogVf("No hunk marker %q, skipping break collapse", HunkMarker)
			yield(in)
			return
		}
		if p >= 2 && in[p-2] == CR && in[p-1] == LF {
			p -= 2
		}
		start := 0
		collapsed := 0
		for p+len(crlfcrlf) <= len(in) {
			if bytes.HasPrefix(in[p:], crlfcrlf) {
				if !yield(in[start:p]) {
					return
				}
				collapsed++
				// drop the first pair, keep the second CR, resume on its LF
				start = p + 2
				p += 3
				continue
			}
			p++
		}
		log.LogVf("Collapsed %d doubled line breaks in hunks", collapsed)
		yield(in[start:])
	}
}
