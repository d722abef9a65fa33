package parser

import (
	"iter"
	"slices"
	"strings"
)

// Keywords that open a message group in the SBS text protocol
var Keywords = []string{"MSG", "SEL", "ID", "AIR", "STA", "CLK"}

// maxPending bounds the tail a Reassembler holds while waiting for the next keyword
const maxPending = 64 * 1024

// Group is the ordered list of trimmed fields of one logical message
type Group []string

// Kind returns the group's leading keyword
func (g Group) Kind() string {
	if len(g) == 0 {
		return ""
	}
	return g[0]
}

// IsKeyword reports whether field opens a new message group
func IsKeyword(field string) bool {
	return slices.Contains(Keywords, strings.TrimSpace(field))
}

// Newlines become field separators so the last field of a line never fuses
// with the keyword that opens the next one. Carriage returns are dropped so a
// CRLF split across two chunks still yields a single separator.
var flattener = strings.NewReplacer("\r", "", "\n", ",", " ", "")

func flatten(chunk string) string {
	return flattener.Replace(chunk)
}

// Groups yields the message groups found in chunk alone.
// A trailing group cut off by the end of the chunk is yielded as-is.
func Groups(chunk string) iter.Seq[Group] {
	return func(yield func(Group) bool) {
		text := flatten(strings.TrimSpace(chunk))
		if text == "" {
			return
		}

		var current Group
		for i, field := range strings.Split(text, ",") {
			field = strings.TrimSpace(field)
			if i > 0 && IsKeyword(field) {
				if !yield(current) {
					return
				}
				current = Group{field}
				continue
			}
			current = append(current, field)
		}
		yield(current)
	}
}

// Split returns all message groups found in chunk
func Split(chunk string) []Group {
	return slices.Collect(Groups(chunk))
}

// Reassembler splits a stream of chunks into message groups, holding back the
// last group of each chunk until the next keyword proves it complete.
// It is not safe for concurrent use.
type Reassembler struct {
	pending string
}

// NewReassembler creates an empty Reassembler
func NewReassembler() *Reassembler {
	return &Reassembler{}
}

// Feed appends chunk to the stream and returns every group that is now complete
func (r *Reassembler) Feed(chunk string) []Group {
	text := r.pending + flatten(chunk)

	cut := lastHead(text)
	if len(text)-cut > maxPending {
		// No keyword in sight; release the terminated part of the tail for the
		// decoder to reject and drop the unterminated field after it.
		r.pending = ""
		return Split(terminated(text))
	}

	r.pending = text[cut:]
	if cut == 0 {
		return nil
	}
	return Split(text[:cut-1])
}

// Drain returns the held-back tail as groups and empties the Reassembler.
// A tail not ending in a line terminator was cut mid-line and is discarded.
func (r *Reassembler) Drain() []Group {
	tail := r.pending
	r.pending = ""
	if !strings.HasSuffix(tail, ",") {
		return nil
	}
	return Split(strings.TrimSuffix(tail, ","))
}

// Pending returns the number of bytes held back
func (r *Reassembler) Pending() int {
	return len(r.pending)
}

// Reset discards the held-back tail
func (r *Reassembler) Reset() {
	r.pending = ""
}

// terminated returns text up to its last separator, without the separator
func terminated(text string) string {
	end := strings.LastIndexByte(text, ',')
	if end < 0 {
		return ""
	}
	return text[:end]
}

// lastHead returns the offset of the last terminated keyword field after the
// first field, or 0. An unterminated final field may still grow (AIR -> AIR123).
func lastHead(text string) int {
	cut := 0
	start := 0
	for i := 0; i < len(text); i++ {
		if text[i] != ',' {
			continue
		}
		if start > 0 && IsKeyword(text[start:i]) {
			cut = start
		}
		start = i + 1
	}
	return cut
}
