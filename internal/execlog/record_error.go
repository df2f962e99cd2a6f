package execlog

import (
	"fmt"
	"io"
	"strings"
)

// RecordError is a problem with one entry of the events list.
type RecordError struct {
	Index   int
	Record  string
	Message string
}

func (e RecordError) Error() string {
	return fmt.Sprintf("events[%d]: %s", e.Index, e.Message)
}

// RecordErrors collects record problems in document order.
type RecordErrors []RecordError

func (re *RecordErrors) add(index int, record, message string) {
	*re = append(*re, RecordError{Index: index, Record: record, Message: message})
}

func (re RecordErrors) HasErrors() bool {
	return len(re) > 0
}

func (re RecordErrors) Error() string {
	msgs := make([]string, len(re))
	for i, e := range re {
		msgs[i] = e.Error()
	}
	return strings.Join(msgs, "\n")
}

// Report writes one line per problem, quoting the offending record:
//
//	skipped: events[2]: expected 5 fields, got 3: "01-01|PREPARE|EXECUTED"
func (re RecordErrors) Report(w io.Writer, label string) {
	for _, e := range re {
		fmt.Fprintf(w, "%s: %s: %q\n", label, e.Error(), e.Record)
	}
}
