package datastores

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"
)

// contactRecord is the row layout of the contacts table.
type contactRecord struct {
	ID           string    `gorm:"primaryKey;size:22"`
	Name         string    `gorm:"size:100;not null"`
	Email        string    `gorm:"size:320;not null;uniqueIndex"`
	Phone        string    `gorm:"size:10;not null"`
	Institution  string    `gorm:"size:200;not null;index"`
	Requirements *string   `gorm:"size:500"`
	CreatedAt    time.Time `gorm:"not null;index;autoCreateTime:false"`
	UpdatedAt    time.Time `gorm:"not null;autoUpdateTime:false"`

	// Case-folded copies of the searchable columns.
	NameKey        string `gorm:"not null;default:''"`
	EmailKey       string `gorm:"not null;default:''"`
	InstitutionKey string `gorm:"not null;default:''"`
}

func (contactRecord) TableName() string { return "contacts" }

func (r *contactRecord) fold() {
	r.NameKey, r.EmailKey, r.InstitutionKey = searchKey(r.Name), searchKey(r.Email), searchKey(r.Institution)
}

func toContactRecord(c *Contact) *contactRecord {
	r := &contactRecord{
		ID:           c.ID.String(),
		Name:         c.Name,
		Email:        c.Email,
		Phone:        c.Phone,
		Institution:  c.Institution,
		Requirements: c.Requirements,
		CreatedAt:    c.CreatedAt,
		UpdatedAt:    c.UpdatedAt,
	}
	r.fold()
	return r
}

func (r *contactRecord) contact() (*Contact, error) {
	id, err := ParseContactID(r.ID)
	if err != nil {
		return nil, fmt.Errorf("store: contact %q: %w", r.ID, err)
	}
	return &Contact{
		ID:           id,
		Name:         r.Name,
		Email:        r.Email,
		Phone:        r.Phone,
		Institution:  r.Institution,
		Requirements: r.Requirements,
		CreatedAt:    r.CreatedAt.UTC(),
		UpdatedAt:    r.UpdatedAt.UTC(),
	}, nil
}

// ContactsGorm implements [ContactsStore] on a SQL database.
// The database must have been opened with TranslateError enabled so that
// unique violations surface as [gorm.ErrDuplicatedKey].
type ContactsGorm struct {
	Now func() time.Time

	db *gorm.DB
}

var _ ContactsStore = (*ContactsGorm)(nil)

// NewContactsGorm migrates the contacts table and returns the store.
func NewContactsGorm(ctx context.Context, db *gorm.DB) (*ContactsGorm, error) {
	if err := db.WithContext(ctx).AutoMigrate(&contactRecord{}); err != nil {
		return nil, fmt.Errorf("store: migrate contacts: %w", err)
	}
	return &ContactsGorm{db: db}, nil
}

func (s *ContactsGorm) Create(ctx context.Context, c *Contact) (*Contact, error) {
	created := stamp(c, clock(s.Now))
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		taken, err := emailTaken(tx, c.Email, "")
		if err != nil {
			return err
		}
		if taken {
			return ErrDuplicateEmail
		}
		return tx.Create(toContactRecord(created)).Error
	})
	if err != nil {
		return nil, gormError(err)
	}
	return created, nil
}

func (s *ContactsGorm) Get(ctx context.Context, id ContactID) (*Contact, error) {
	var rec contactRecord
	err := s.db.WithContext(ctx).Where("id = ?", id.String()).Take(&rec).Error
	if err != nil {
		return nil, gormError(err)
	}
	return rec.contact()
}

func (s *ContactsGorm) List(ctx context.Context, search string, page Page) (*ContactsPage, error) {
	page = page.Normalize()
	scope := func(db *gorm.DB) *gorm.DB {
		if search == "" {
			return db
		}
		pattern := "%" + escapeLike(searchKey(search)) + "%"
		return db.Where(
			`name_key LIKE ? ESCAPE '\' OR email_key LIKE ? ESCAPE '\' OR institution_key LIKE ? ESCAPE '\'`,
			pattern, pattern, pattern,
		)
	}

	var (
		total   int64
		records []contactRecord
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return s.db.WithContext(gctx).Model(&contactRecord{}).Scopes(scope).Count(&total).Error
	})
	g.Go(func() error {
		return s.db.WithContext(gctx).Scopes(scope).
			Order("created_at DESC").Order("id DESC").
			Offset(page.Offset()).Limit(page.Size).
			Find(&records).Error
	})
	if err := g.Wait(); err != nil {
		return nil, gormError(err)
	}

	contacts := make([]*Contact, 0, len(records))
	for i := range records {
		c, err := records[i].contact()
		if err != nil {
			return nil, err
		}
		contacts = append(contacts, c)
	}
	return &ContactsPage{Page: page, Total: int(total), Contacts: contacts}, nil
}

func (s *ContactsGorm) Update(ctx context.Context, id ContactID, c *Contact) (*Contact, error) {
	var updated *Contact
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var rec contactRecord
		if err := tx.Where("id = ?", id.String()).Take(&rec).Error; err != nil {
			return err
		}
		if c.Email != rec.Email {
			taken, err := emailTaken(tx, c.Email, rec.ID)
			if err != nil {
				return err
			}
			if taken {
				return ErrDuplicateEmail
			}
		}

		rec.Name, rec.Email, rec.Phone, rec.Institution, rec.Requirements =
			c.Name, c.Email, c.Phone, c.Institution, c.Requirements
		rec.UpdatedAt = clock(s.Now)
		rec.fold()
		err := tx.Model(&contactRecord{}).Where("id = ?", rec.ID).Updates(map[string]any{
			"name":            rec.Name,
			"email":           rec.Email,
			"phone":           rec.Phone,
			"institution":     rec.Institution,
			"requirements":    rec.Requirements,
			"updated_at":      rec.UpdatedAt,
			"name_key":        rec.NameKey,
			"email_key":       rec.EmailKey,
			"institution_key": rec.InstitutionKey,
		}).Error
		if err != nil {
			return err
		}
		updated, err = rec.contact()
		return err
	})
	if err != nil {
		return nil, gormError(err)
	}
	return updated, nil
}

func (s *ContactsGorm) Delete(ctx context.Context, id ContactID) error {
	res := s.db.WithContext(ctx).Where("id = ?", id.String()).Delete(&contactRecord{})
	if res.Error != nil {
		return gormError(res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrObjectNotFound
	}
	return nil
}

func (s *ContactsGorm) BulkDelete(ctx context.Context, ids []ContactID) (int, error) {
	if len(ids) == 0 {
		return 0, ErrInvalidInput
	}
	keys := make([]string, 0, len(ids))
	for _, id := range ids {
		keys = append(keys, id.String())
	}
	res := s.db.WithContext(ctx).Where("id IN ?", keys).Delete(&contactRecord{})
	if res.Error != nil {
		return 0, gormError(res.Error)
	}
	return int(res.RowsAffected), nil
}

func (s *ContactsGorm) Stats(ctx context.Context, now time.Time) (*ContactsStats, error) {
	day, month := statsWindow(now)

	var (
		total, today, thisMonth int64
		top                     []struct {
			Institution string
			Count       int
		}
	)
	count := func(ctx context.Context, dst *int64, since *time.Time) func() error {
		return func() error {
			q := s.db.WithContext(ctx).Model(&contactRecord{})
			if since != nil {
				q = q.Where("created_at >= ?", since.UTC())
			}
			return q.Count(dst).Error
		}
	}
	g, gctx := errgroup.WithContext(ctx)
	g.Go(count(gctx, &total, nil))
	g.Go(count(gctx, &today, &day))
	g.Go(count(gctx, &thisMonth, &month))
	g.Go(func() error {
		return s.db.WithContext(gctx).Model(&contactRecord{}).
			Select("institution, COUNT(*) AS count").
			Group("institution").
			Order("count DESC").
			Limit(TopInstitutionsLen).
			Scan(&top).Error
	})
	if err := g.Wait(); err != nil {
		return nil, gormError(err)
	}

	stats := &ContactsStats{Total: int(total), Today: int(today), ThisMonth: int(thisMonth)}
	for _, t := range top {
		stats.TopInstitutions = append(stats.TopInstitutions, InstitutionCount(t))
	}
	return stats, nil
}

func (s *ContactsGorm) Export(ctx context.Context) iter.Seq2[*Contact, error] {
	return func(yield func(*Contact, error) bool) {
		db := s.db.WithContext(ctx)
		rows, err := db.Model(&contactRecord{}).Order("created_at DESC").Order("id DESC").Rows()
		if err != nil {
			yield(nil, gormError(err))
			return
		}
		defer rows.Close()

		for rows.Next() {
			var rec contactRecord
			if err := db.ScanRows(rows, &rec); err != nil {
				yield(nil, err)
				return
			}
			if !yield(rec.contact()) {
				return
			}
		}
		if err := rows.Err(); err != nil {
			yield(nil, err)
		}
	}
}

func (s *ContactsGorm) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

func (s *ContactsGorm) Close(context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// emailTaken reports whether a contact other than exceptID holds email.
func emailTaken(tx *gorm.DB, email, exceptID string) (bool, error) {
	q := tx.Model(&contactRecord{}).Where("email = ?", email)
	if exceptID != "" {
		q = q.Where("id <> ?", exceptID)
	}
	var n int64
	err := q.Count(&n).Error
	return n > 0, err
}

func gormError(err error) error {
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		return ErrObjectNotFound
	case errors.Is(err, gorm.ErrDuplicatedKey):
		return ErrDuplicateEmail
	case errors.Is(err, ErrDuplicateEmail), errors.Is(err, ErrObjectNotFound):
		return err
	default:
		return fmt.Errorf("store: %w", err)
	}
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

func escapeLike(s string) string { return likeEscaper.Replace(s) }
