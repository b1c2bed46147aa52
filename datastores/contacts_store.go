package datastores

import (
	"context"
	"errors"
	"iter"
	"math"
	"time"

	"golang.org/x/text/cases"
)

type Contact struct {
	ID           ContactID
	Name         string
	Email        string
	Phone        string
	Institution  string
	Requirements *string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

type ContactsStore interface {
	Create(context.Context, *Contact) (*Contact, error)
	Get(context.Context, ContactID) (*Contact, error)
	List(ctx context.Context, search string, page Page) (*ContactsPage, error)
	Update(context.Context, ContactID, *Contact) (*Contact, error)
	Delete(context.Context, ContactID) error
	BulkDelete(context.Context, []ContactID) (int, error)
	Stats(ctx context.Context, now time.Time) (*ContactsStats, error)
	Export(context.Context) iter.Seq2[*Contact, error]
	Ping(context.Context) error
	Close(context.Context) error
}

var (
	ErrObjectNotFound = errors.New("store: object not found")
	ErrDuplicateEmail = errors.New("store: duplicate email")
	ErrInvalidInput   = errors.New("store: invalid input")
)

const (
	DefaultPageNumber = 1
	DefaultPageSize   = 10

	// TopInstitutionsLen is the number of institutions reported by Stats.
	TopInstitutionsLen = 10
)

// Page selects a window of an ordered result set. Numbers start at 1.
type Page struct {
	Number int
	Size   int
}

// Normalize replaces non-positive values with the defaults.
func (p Page) Normalize() Page {
	if p.Number < 1 {
		p.Number = DefaultPageNumber
	}
	if p.Size < 1 {
		p.Size = DefaultPageSize
	}
	return p
}

// Offset is the number of records before the page. It saturates at
// [math.MaxInt] instead of overflowing.
func (p Page) Offset() int {
	if p.Number < 1 || p.Size < 1 {
		return 0
	}
	if p.Number-1 > math.MaxInt/p.Size {
		return math.MaxInt
	}
	return (p.Number - 1) * p.Size
}

// ContactsPage is one page of a listing along with the total number of matches.
type ContactsPage struct {
	Page     Page
	Total    int
	Contacts []*Contact
}

// Pages is ceil(Total/Page.Size).
func (p *ContactsPage) Pages() int {
	if p.Page.Size < 1 {
		return 0
	}
	pages := p.Total / p.Page.Size
	if p.Total%p.Page.Size != 0 {
		pages++
	}
	return pages
}

type InstitutionCount struct {
	Institution string
	Count       int
}

type ContactsStats struct {
	Total           int
	Today           int
	ThisMonth       int
	TopInstitutions []InstitutionCount
}

// searchKey is the case-folded form of s that List matches searches against.
func searchKey(s string) string { return cases.Fold().String(s) }

// statsWindow returns the local midnight of now and the first instant of its month.
func statsWindow(now time.Time) (day, month time.Time) {
	y, m, d := now.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, now.Location()),
		time.Date(y, m, 1, 0, 0, 0, 0, now.Location())
}

// stamp prepares c for insertion: fresh id, both timestamps set to now.
func stamp(c *Contact, now time.Time) *Contact {
	cc := *c
	cc.ID = newContactID()
	cc.CreatedAt = now
	cc.UpdatedAt = now
	return &cc
}

// clock returns the current time from now, or from [time.Now] if now is nil,
// in UTC and truncated to the millisecond precision every backend can keep.
func clock(now func() time.Time) time.Time {
	if now == nil {
		now = time.Now
	}
	return now().UTC().Truncate(time.Millisecond)
}
