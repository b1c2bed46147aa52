package datastores

import (
	"cmp"
	"context"
	"iter"
	"slices"
	"strings"
	"sync"
	"time"

)

// ContactsInmem implements [ContactsStore].
type ContactsInmem struct {
	Now func() time.Time

	mu       sync.Mutex
	index    map[ContactID]int
	emails   map[string]ContactID
	contacts []*Contact // insertion order
}

var _ ContactsStore = (*ContactsInmem)(nil)

func NewContactsInmem(cs ...*Contact) *ContactsInmem {
	s := &ContactsInmem{
		index:  make(map[ContactID]int, len(cs)),
		emails: make(map[string]ContactID, len(cs)),
	}
	for _, c := range cs {
		if c.ID.IsZero() {
			c = stamp(c, clock(nil))
		}
		s.index[c.ID] = len(s.contacts)
		s.emails[c.Email] = c.ID
		s.contacts = append(s.contacts, c)
	}
	return s
}

func (s *ContactsInmem) Create(_ context.Context, c *Contact) (*Contact, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, taken := s.emails[c.Email]; taken {
		return nil, ErrDuplicateEmail
	}
retry:
	created := stamp(c, clock(s.Now))
	if _, loaded := s.index[created.ID]; loaded {
		goto retry
	}
	s.index[created.ID] = len(s.contacts)
	s.emails[created.Email] = created.ID
	s.contacts = append(s.contacts, created)
	return copyContact(created), nil
}

func (s *ContactsInmem) Get(_ context.Context, id ContactID) (*Contact, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	index, ok := s.index[id]
	if !ok {
		return nil, ErrObjectNotFound
	}
	return copyContact(s.contacts[index]), nil
}

func (s *ContactsInmem) List(_ context.Context, search string, page Page) (*ContactsPage, error) {
	page = page.Normalize()
	match := func(*Contact) bool { return true }
	if search != "" {
		needle := searchKey(search)
		match = func(c *Contact) bool {
			return strings.Contains(searchKey(c.Name), needle) ||
				strings.Contains(searchKey(c.Email), needle) ||
				strings.Contains(searchKey(c.Institution), needle)
		}
	}

	s.mu.Lock()
	matched := s.newestFirst(match)
	s.mu.Unlock()

	offset := min(page.Offset(), len(matched))
	end := offset + min(page.Size, len(matched)-offset)
	return &ContactsPage{Page: page, Total: len(matched), Contacts: matched[offset:end]}, nil
}

func (s *ContactsInmem) Update(_ context.Context, id ContactID, c *Contact) (*Contact, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	index, ok := s.index[id]
	if !ok {
		return nil, ErrObjectNotFound
	}
	old := s.contacts[index]
	if c.Email != old.Email {
		if _, taken := s.emails[c.Email]; taken {
			return nil, ErrDuplicateEmail
		}
	}

	updated := *c
	updated.ID, updated.CreatedAt, updated.UpdatedAt = old.ID, old.CreatedAt, clock(s.Now)
	delete(s.emails, old.Email)
	s.emails[updated.Email] = id
	s.contacts[index] = &updated
	return copyContact(&updated), nil
}

func (s *ContactsInmem) Delete(_ context.Context, id ContactID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.index[id]; !ok {
		return ErrObjectNotFound
	}
	s.remove(map[ContactID]struct{}{id: {}})
	return nil
}

func (s *ContactsInmem) BulkDelete(_ context.Context, ids []ContactID) (int, error) {
	if len(ids) == 0 {
		return 0, ErrInvalidInput
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	set := make(map[ContactID]struct{}, len(ids))
	for _, id := range ids {
		if _, ok := s.index[id]; ok {
			set[id] = struct{}{}
		}
	}
	s.remove(set)
	return len(set), nil
}

func (s *ContactsInmem) Stats(_ context.Context, now time.Time) (*ContactsStats, error) {
	day, month := statsWindow(now)

	s.mu.Lock()
	defer s.mu.Unlock()
	stats := &ContactsStats{Total: len(s.contacts)}
	counts := make(map[string]int)
	var institutions []string // first-seen order
	for _, c := range s.contacts {
		if !c.CreatedAt.Before(day) {
			stats.Today++
		}
		if !c.CreatedAt.Before(month) {
			stats.ThisMonth++
		}
		if counts[c.Institution] == 0 {
			institutions = append(institutions, c.Institution)
		}
		counts[c.Institution]++
	}

	slices.SortStableFunc(institutions, func(a, b string) int { return cmp.Compare(counts[b], counts[a]) })
	for _, inst := range institutions[:min(TopInstitutionsLen, len(institutions))] {
		stats.TopInstitutions = append(stats.TopInstitutions, InstitutionCount{Institution: inst, Count: counts[inst]})
	}
	return stats, nil
}

// Export iterates over a snapshot taken when the iteration starts.
func (s *ContactsInmem) Export(_ context.Context) iter.Seq2[*Contact, error] {
	return func(yield func(*Contact, error) bool) {
		s.mu.Lock()
		snapshot := s.newestFirst(func(*Contact) bool { return true })
		s.mu.Unlock()
		for _, c := range snapshot {
			if !yield(c, nil) {
				return
			}
		}
	}
}

func (s *ContactsInmem) Ping(context.Context) error { return nil }

func (s *ContactsInmem) Close(context.Context) error { return nil }

// newestFirst returns copies of matching contacts by CreatedAt descending;
// equal timestamps keep the most recent insertion first. Callers hold s.mu.
func (s *ContactsInmem) newestFirst(match func(*Contact) bool) []*Contact {
	var out []*Contact
	for _, c := range slices.Backward(s.contacts) {
		if match(c) {
			out = append(out, copyContact(c))
		}
	}
	slices.SortStableFunc(out, func(a, b *Contact) int { return b.CreatedAt.Compare(a.CreatedAt) })
	return out
}

// remove drops the contacts in set and rebuilds the index. Callers hold s.mu.
func (s *ContactsInmem) remove(set map[ContactID]struct{}) {
	if len(set) == 0 {
		return
	}
	s.contacts = slices.DeleteFunc(s.contacts, func(c *Contact) bool {
		_, found := set[c.ID]
		if found {
			delete(s.index, c.ID)
			delete(s.emails, c.Email)
		}
		return found
	})
	for i, c := range s.contacts {
		s.index[c.ID] = i
	}
}

func copyContact(c *Contact) *Contact {
	cc := *c
	if c.Requirements != nil {
		r := *c.Requirements
		cc.Requirements = &r
	}
	return &cc
}
