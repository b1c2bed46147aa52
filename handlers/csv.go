package handlers

import (
	"bufio"
	"io"
	"strings"
	"time"

	ds "github.com/oaiiae/contact-leads/datastores"
)

const (
	csvHeader     = "ID,Name,Email,Phone,Institution,Requirements,Created At,Updated At"
	csvTimeFormat = "2006-01-02T15:04:05.000Z"
)

var csvQuoteEscaper = strings.NewReplacer(`"`, `""`)

// contactsCSV writes contacts as CSV: the header line, then one line per
// contact with no trailing newline. Name, institution and requirements are
// always quoted.
type contactsCSV struct {
	w    *bufio.Writer
	rows int
}

func newContactsCSV(w io.Writer) *contactsCSV {
	cw := &contactsCSV{w: bufio.NewWriter(w)}
	cw.w.WriteString(csvHeader + "\n")
	return cw
}

func (cw *contactsCSV) Write(c *ds.Contact) {
	if cw.rows > 0 {
		cw.w.WriteByte('\n')
	}
	cw.rows++

	var requirements string
	if c.Requirements != nil {
		requirements = *c.Requirements
	}
	cw.w.WriteString(c.ID.String())
	cw.w.WriteByte(',')
	cw.quoted(c.Name)
	cw.w.WriteByte(',')
	cw.w.WriteString(c.Email)
	cw.w.WriteByte(',')
	cw.w.WriteString(c.Phone)
	cw.w.WriteByte(',')
	cw.quoted(c.Institution)
	cw.w.WriteByte(',')
	cw.quoted(requirements)
	cw.w.WriteByte(',')
	cw.w.WriteString(formatTime(c.CreatedAt))
	cw.w.WriteByte(',')
	cw.w.WriteString(formatTime(c.UpdatedAt))
}

func (cw *contactsCSV) quoted(s string) {
	cw.w.WriteByte('"')
	csvQuoteEscaper.WriteString(cw.w, s)
	cw.w.WriteByte('"')
}

func (cw *contactsCSV) Flush() error { return cw.w.Flush() }

func formatTime(t time.Time) string { return t.UTC().Format(csvTimeFormat) }
