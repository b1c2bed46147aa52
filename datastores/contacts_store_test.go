package datastores

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"sync"
	"testing"
	"time"
)

// testClock returns a strictly increasing time on every call.
type testClock struct {
	mu sync.Mutex
	t  time.Time
}

func newTestClock(start time.Time) *testClock { return &testClock{t: start} }

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(time.Second)
	return c.t
}

func (c *testClock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = t
}

type storeFactory func(t *testing.T, now func() time.Time) ContactsStore

func newContact(i int) *Contact {
	return &Contact{
		Name:        fmt.Sprintf("Person %02d", i),
		Email:       fmt.Sprintf("person%02d@example.com", i),
		Phone:       "0123456789",
		Institution: fmt.Sprintf("Institution %02d", i),
	}
}

func mustCreate(t *testing.T, s ContactsStore, c *Contact) *Contact {
	t.Helper()
	created, err := s.Create(context.Background(), c)
	if err != nil {
		t.Fatalf("Create(%q): %v", c.Email, err)
	}
	return created
}

func noonToday() time.Time {
	y, m, d := time.Now().Date()
	return time.Date(y, m, d, 12, 0, 0, 0, time.Local)
}

// testContactsStore runs the behaviour every [ContactsStore] must have.
func testContactsStore(t *testing.T, newStore storeFactory) {
	ctx := context.Background()

	t.Run("CreateGet", func(t *testing.T) {
		s := newStore(t, newTestClock(noonToday()).Now)
		reqs := "a demo for 30 seats"
		in := newContact(1)
		in.Requirements = &reqs

		created := mustCreate(t, s, in)
		if created.ID.IsZero() {
			t.Fatal("expected ID to be assigned")
		}
		if created.CreatedAt.IsZero() || !created.UpdatedAt.Equal(created.CreatedAt) {
			t.Errorf("timestamps: created %v, updated %v", created.CreatedAt, created.UpdatedAt)
		}

		got, err := s.Get(ctx, created.ID)
		if err != nil {
			t.Fatalf("Get: %v", err)
		}
		if got.ID != created.ID || got.Name != in.Name || got.Email != in.Email ||
			got.Phone != in.Phone || got.Institution != in.Institution {
			t.Errorf("Get: got %+v, want %+v", got, created)
		}
		if got.Requirements == nil || *got.Requirements != reqs {
			t.Errorf("Requirements: got %v, want %q", got.Requirements, reqs)
		}
		if !got.CreatedAt.Equal(created.CreatedAt) {
			t.Errorf("CreatedAt: got %v, want %v", got.CreatedAt, created.CreatedAt)
		}
	})

	t.Run("CreateDuplicateEmail", func(t *testing.T) {
		s := newStore(t, nil)
		mustCreate(t, s, newContact(1))

		dup := newContact(2)
		dup.Email = newContact(1).Email
		_, err := s.Create(ctx, dup)
		if !errors.Is(err, ErrDuplicateEmail) {
			t.Fatalf("expected ErrDuplicateEmail, got %v", err)
		}

		// exact match only
		upper := newContact(3)
		upper.Email = strings.ToUpper(newContact(1).Email)
		mustCreate(t, s, upper)
	})

	t.Run("GetNotFound", func(t *testing.T) {
		s := newStore(t, nil)
		_, err := s.Get(ctx, newContactID())
		if !errors.Is(err, ErrObjectNotFound) {
			t.Fatalf("expected ErrObjectNotFound, got %v", err)
		}
	})

	t.Run("Update", func(t *testing.T) {
		s := newStore(t, newTestClock(noonToday()).Now)
		first := mustCreate(t, s, newContact(1))
		second := mustCreate(t, s, newContact(2))

		change := newContact(9)
		change.Email = second.Email
		_, err := s.Update(ctx, first.ID, change)
		if !errors.Is(err, ErrDuplicateEmail) {
			t.Fatalf("update to another contact's email: expected ErrDuplicateEmail, got %v", err)
		}

		change.Email = first.Email
		updated, err := s.Update(ctx, first.ID, change)
		if err != nil {
			t.Fatalf("update keeping own email: %v", err)
		}
		if updated.ID != first.ID || updated.Name != change.Name || updated.Institution != change.Institution {
			t.Errorf("Update: got %+v", updated)
		}
		if updated.Requirements != nil {
			t.Errorf("Requirements: expected nil after full replace, got %q", *updated.Requirements)
		}
		if !updated.CreatedAt.Equal(first.CreatedAt) {
			t.Errorf("CreatedAt changed: got %v, want %v", updated.CreatedAt, first.CreatedAt)
		}
		if !updated.UpdatedAt.After(first.UpdatedAt) {
			t.Errorf("UpdatedAt not refreshed: got %v, was %v", updated.UpdatedAt, first.UpdatedAt)
		}

		got, err := s.Get(ctx, first.ID)
		if err != nil {
			t.Fatalf("Get: %v", err)
		}
		if got.Name != change.Name {
			t.Errorf("Get after Update: name %q, want %q", got.Name, change.Name)
		}

		change.Email = "fresh@example.com"
		if _, err := s.Update(ctx, first.ID, change); err != nil {
			t.Fatalf("update to a new email: %v", err)
		}
		// the released email is free again
		mustCreate(t, s, newContact(1))
	})

	t.Run("UpdateNotFound", func(t *testing.T) {
		s := newStore(t, nil)
		_, err := s.Update(ctx, newContactID(), newContact(1))
		if !errors.Is(err, ErrObjectNotFound) {
			t.Fatalf("expected ErrObjectNotFound, got %v", err)
		}
	})

	t.Run("Delete", func(t *testing.T) {
		s := newStore(t, nil)
		c := mustCreate(t, s, newContact(1))

		if err := s.Delete(ctx, c.ID); err != nil {
			t.Fatalf("Delete: %v", err)
		}
		if _, err := s.Get(ctx, c.ID); !errors.Is(err, ErrObjectNotFound) {
			t.Errorf("Get after Delete: expected ErrObjectNotFound, got %v", err)
		}
		for range 2 {
			if err := s.Delete(ctx, c.ID); !errors.Is(err, ErrObjectNotFound) {
				t.Errorf("Delete again: expected ErrObjectNotFound, got %v", err)
			}
		}
	})

	t.Run("BulkDelete", func(t *testing.T) {
		s := newStore(t, nil)
		var ids []ContactID
		for i := range 4 {
			ids = append(ids, mustCreate(t, s, newContact(i)).ID)
		}

		if _, err := s.BulkDelete(ctx, nil); !errors.Is(err, ErrInvalidInput) {
			t.Fatalf("empty ids: expected ErrInvalidInput, got %v", err)
		}

		n, err := s.BulkDelete(ctx, []ContactID{ids[0], newContactID(), ids[2], newContactID()})
		if err != nil {
			t.Fatalf("BulkDelete: %v", err)
		}
		if n != 2 {
			t.Errorf("BulkDelete: deleted %d, want 2", n)
		}

		page, err := s.List(ctx, "", Page{})
		if err != nil {
			t.Fatalf("List: %v", err)
		}
		if page.Total != 2 {
			t.Errorf("remaining: got %d, want 2", page.Total)
		}
		for _, c := range page.Contacts {
			if c.ID == ids[0] || c.ID == ids[2] {
				t.Errorf("contact %v should have been deleted", c.ID)
			}
		}
	})

	t.Run("ListPagination", func(t *testing.T) {
		s := newStore(t, newTestClock(noonToday().Add(-time.Hour)).Now)
		var last *Contact
		for i := range 25 {
			last = mustCreate(t, s, newContact(i))
		}

		page, err := s.List(ctx, "", Page{Number: 3, Size: 10})
		if err != nil {
			t.Fatalf("List: %v", err)
		}
		if len(page.Contacts) != 5 {
			t.Errorf("page 3: got %d contacts, want 5", len(page.Contacts))
		}
		if page.Total != 25 || page.Pages() != 3 {
			t.Errorf("total %d pages %d, want 25 and 3", page.Total, page.Pages())
		}
		if page.Contacts[len(page.Contacts)-1].Email != newContact(0).Email {
			t.Errorf("last of page 3 should be the oldest contact, got %q", page.Contacts[len(page.Contacts)-1].Email)
		}

		first, err := s.List(ctx, "", Page{})
		if err != nil {
			t.Fatalf("List defaults: %v", err)
		}
		if first.Page != (Page{Number: DefaultPageNumber, Size: DefaultPageSize}) {
			t.Errorf("default page: got %+v", first.Page)
		}
		if len(first.Contacts) != 10 || first.Contacts[0].ID != last.ID {
			t.Errorf("page 1 should start with the newest contact")
		}
		for i := 1; i < len(first.Contacts); i++ {
			if first.Contacts[i].CreatedAt.After(first.Contacts[i-1].CreatedAt) {
				t.Errorf("contacts not ordered by CreatedAt descending at %d", i)
			}
		}

		beyond, err := s.List(ctx, "", Page{Number: 4, Size: 10})
		if err != nil {
			t.Fatalf("List beyond: %v", err)
		}
		if len(beyond.Contacts) != 0 || beyond.Total != 25 {
			t.Errorf("page 4: got %d contacts, total %d", len(beyond.Contacts), beyond.Total)
		}

		for _, p := range []Page{
			{Number: 1<<62 + 1, Size: 3},
			{Number: math.MaxInt, Size: math.MaxInt},
			{Number: 2, Size: math.MaxInt},
		} {
			huge, err := s.List(ctx, "", p)
			if err != nil {
				t.Fatalf("List %+v: %v", p, err)
			}
			if len(huge.Contacts) != 0 || huge.Total != 25 {
				t.Errorf("page %+v: got %d contacts, total %d", p, len(huge.Contacts), huge.Total)
			}
		}

		all, err := s.List(ctx, "", Page{Number: 1, Size: math.MaxInt})
		if err != nil {
			t.Fatalf("List all: %v", err)
		}
		if len(all.Contacts) != 25 || all.Pages() != 1 {
			t.Errorf("unbounded page: got %d contacts, %d pages", len(all.Contacts), all.Pages())
		}
	})

	t.Run("ListSearch", func(t *testing.T) {
		s := newStore(t, newTestClock(noonToday().Add(-time.Hour)).Now)
		inName := newContact(1)
		inName.Name = "Wile E. ACME"
		inEmail := newContact(2)
		inEmail.Email = "roadrunner@acme.example"
		inInstitution := newContact(3)
		inInstitution.Institution = "Acme University"
		inPhoneOnly := newContact(4)
		inRequirements := newContact(5)
		acme := "acme"
		inRequirements.Requirements = &acme
		for _, c := range []*Contact{inName, inEmail, inInstitution, inPhoneOnly, inRequirements} {
			mustCreate(t, s, c)
		}

		page, err := s.List(ctx, "acme", Page{})
		if err != nil {
			t.Fatalf("List: %v", err)
		}
		if page.Total != 3 || len(page.Contacts) != 3 {
			t.Fatalf("search acme: got total %d and %d contacts, want 3", page.Total, len(page.Contacts))
		}
		want := map[string]bool{inName.Email: true, inEmail.Email: true, inInstitution.Email: true}
		for _, c := range page.Contacts {
			if !want[c.Email] {
				t.Errorf("unexpected match %q", c.Email)
			}
		}

		none, err := s.List(ctx, "100%_", Page{})
		if err != nil {
			t.Fatalf("List with wildcard characters: %v", err)
		}
		if none.Total != 0 {
			t.Errorf("wildcard characters must match literally, got %d matches", none.Total)
		}

		accented := newContact(6)
		accented.Institution = "Université de Genève"
		mustCreate(t, s, accented)
		renamed := newContact(7)
		renamed.Institution = "Old Name"
		renamed = mustCreate(t, s, renamed)
		renamed.Institution = "ÉCOLE NORMALE"
		if _, err := s.Update(ctx, renamed.ID, renamed); err != nil {
			t.Fatalf("Update: %v", err)
		}
		for search, email := range map[string]string{
			"UNIVERSITÉ": accented.Email,
			"genève":     accented.Email,
			"école":      renamed.Email,
		} {
			page, err := s.List(ctx, search, Page{})
			if err != nil {
				t.Fatalf("List %q: %v", search, err)
			}
			if page.Total != 1 || page.Contacts[0].Email != email {
				t.Errorf("search %q: got total %d, want %s", search, page.Total, email)
			}
		}
		stale, err := s.List(ctx, "old name", Page{})
		if err != nil {
			t.Fatalf("List: %v", err)
		}
		if stale.Total != 0 {
			t.Errorf("search must follow updates, got %d matches for the old institution", stale.Total)
		}
	})

	t.Run("Stats", func(t *testing.T) {
		noon := noonToday()
		y, m, _ := noon.Date()
		lastMonth := time.Date(y, m, 1, 12, 0, 0, 0, time.Local).AddDate(0, 0, -1)

		clk := newTestClock(lastMonth)
		s := newStore(t, clk.Now)
		old := newContact(0)
		old.Institution = "Acme University"
		mustCreate(t, s, old)

		clk.Set(noon.Add(-time.Hour))
		for i := 1; i <= 3; i++ {
			c := newContact(i)
			if i < 3 {
				c.Institution = "Acme University"
			}
			mustCreate(t, s, c)
		}

		stats, err := s.Stats(ctx, noon)
		if err != nil {
			t.Fatalf("Stats: %v", err)
		}
		if stats.Total != 4 || stats.Today != 3 || stats.ThisMonth != 3 {
			t.Errorf("got total %d today %d month %d, want 4 3 3", stats.Total, stats.Today, stats.ThisMonth)
		}
		if len(stats.TopInstitutions) != 2 {
			t.Fatalf("top institutions: got %d, want 2", len(stats.TopInstitutions))
		}
		if stats.TopInstitutions[0] != (InstitutionCount{Institution: "Acme University", Count: 3}) {
			t.Errorf("top institution: got %+v", stats.TopInstitutions[0])
		}
	})

	t.Run("StatsTopTen", func(t *testing.T) {
		s := newStore(t, newTestClock(noonToday().Add(-time.Hour)).Now)
		for i := range 12 {
			for j := range i + 1 {
				c := newContact(i*100 + j)
				c.Institution = fmt.Sprintf("Institution %02d", i)
				mustCreate(t, s, c)
			}
		}

		stats, err := s.Stats(ctx, noonToday())
		if err != nil {
			t.Fatalf("Stats: %v", err)
		}
		if len(stats.TopInstitutions) != TopInstitutionsLen {
			t.Fatalf("top institutions: got %d, want %d", len(stats.TopInstitutions), TopInstitutionsLen)
		}
		for i, ic := range stats.TopInstitutions {
			if want := 12 - i; ic.Count != want {
				t.Errorf("top[%d]: got %+v, want count %d", i, ic, want)
			}
		}
	})

	t.Run("Export", func(t *testing.T) {
		s := newStore(t, newTestClock(noonToday().Add(-time.Hour)).Now)
		for i := range 5 {
			mustCreate(t, s, newContact(i))
		}

		var got []*Contact
		for c, err := range s.Export(ctx) {
			if err != nil {
				t.Fatalf("Export: %v", err)
			}
			got = append(got, c)
		}
		if len(got) != 5 {
			t.Fatalf("Export: got %d contacts, want 5", len(got))
		}
		for i, c := range got {
			if want := newContact(4 - i).Email; c.Email != want {
				t.Errorf("Export[%d]: got %q, want %q", i, c.Email, want)
			}
		}

		n := 0
		for range s.Export(ctx) {
			n++
			break
		}
		if n != 1 {
			t.Errorf("Export must stop when the consumer stops")
		}
	})

	t.Run("Ping", func(t *testing.T) {
		s := newStore(t, nil)
		if err := s.Ping(ctx); err != nil {
			t.Errorf("Ping: %v", err)
		}
	})
}

func TestContactsInmem(t *testing.T) {
	testContactsStore(t, func(_ *testing.T, now func() time.Time) ContactsStore {
		s := NewContactsInmem()
		s.Now = now
		return s
	})
}

func TestContactsInmem_Seeded(t *testing.T) {
	seed := newContact(1)
	s := NewContactsInmem(seed)

	page, err := s.List(context.Background(), "", Page{})
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if page.Total != 1 || page.Contacts[0].ID.IsZero() {
		t.Fatalf("seeded contact should be listed with an id, got %+v", page)
	}
	if _, err := s.Create(context.Background(), newContact(1)); !errors.Is(err, ErrDuplicateEmail) {
		t.Errorf("seeded email must be taken, got %v", err)
	}
}

func TestContactsInmem_ReturnsCopies(t *testing.T) {
	s := NewContactsInmem()
	created := mustCreate(t, s, newContact(1))
	created.Name = "changed by caller"

	got, err := s.Get(context.Background(), created.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Name == created.Name {
		t.Error("store state must not alias returned contacts")
	}
}

func TestPage(t *testing.T) {
	tests := []struct {
		page   Page
		total  int
		offset int
		pages  int
	}{
		{Page{Number: 1, Size: 10}, 0, 0, 0},
		{Page{Number: 1, Size: 10}, 10, 0, 1},
		{Page{Number: 3, Size: 10}, 25, 20, 3},
		{Page{Number: 2, Size: 7}, 15, 7, 3},
		{Page{}, 11, 0, 2},
		{Page{Number: -4, Size: -1}, 11, 0, 2},
		{Page{Number: 1<<62 + 1, Size: 3}, 25, math.MaxInt, 9},
		{Page{Number: math.MaxInt, Size: math.MaxInt}, 25, math.MaxInt, 1},
		{Page{Number: 1, Size: math.MaxInt}, math.MaxInt, 0, 1},
	}
	for _, tt := range tests {
		t.Run(fmt.Sprintf("%+v/%d", tt.page, tt.total), func(t *testing.T) {
			p := tt.page.Normalize()
			if got := p.Offset(); got != tt.offset {
				t.Errorf("Offset() = %d, want %d", got, tt.offset)
			}
			cp := &ContactsPage{Page: p, Total: tt.total}
			if got := cp.Pages(); got != tt.pages {
				t.Errorf("Pages() = %d, want %d", got, tt.pages)
			}
		})
	}
}

func TestStatsWindow(t *testing.T) {
	loc := time.FixedZone("UTC+5", 5*60*60)
	now := time.Date(2024, time.March, 17, 1, 30, 0, 0, loc)
	day, month := statsWindow(now)
	if want := time.Date(2024, time.March, 17, 0, 0, 0, 0, loc); !day.Equal(want) {
		t.Errorf("day: got %v, want %v", day, want)
	}
	if want := time.Date(2024, time.March, 1, 0, 0, 0, 0, loc); !month.Equal(want) {
		t.Errorf("month: got %v, want %v", month, want)
	}
}
