package handlers

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"net/http"
	"strings"
	"time"

	"github.com/danielgtaylor/huma/v2"

	ds "github.com/oaiiae/contact-leads/datastores"
)

const (
	msgNotFound       = "No contact found with the provided ID"
	msgDuplicateEmail = "A contact with this email address already exists"
	msgNoIDs          = "Please provide an array of contact IDs"
)

type Contacts struct {
	Store        ds.ContactsStore
	ErrorHandler func(context.Context, error)
	Now          func() time.Time // defaults to [time.Now], used by stats
}

type ContactModel struct {
	ID ds.ContactID `json:"id" readOnly:"true"`

	Name         string    `json:"name"         example:"Jane Doe"`
	Email        string    `json:"email"        example:"jane@example.edu"`
	Phone        string    `json:"phone"        example:"9876543210"`
	Institution  string    `json:"institution"  example:"Springfield University"`
	Requirements *string   `json:"requirements" example:"Campus-wide licence for 300 seats" nullable:"true"`
	CreatedAt    time.Time `json:"createdAt"`
	UpdatedAt    time.Time `json:"updatedAt"`
}

func contactModel(c *ds.Contact) ContactModel {
	return ContactModel{
		ID:           c.ID,
		Name:         c.Name,
		Email:        c.Email,
		Phone:        c.Phone,
		Institution:  c.Institution,
		Requirements: c.Requirements,
		CreatedAt:    c.CreatedAt,
		UpdatedAt:    c.UpdatedAt,
	}
}

// ContactInput is the request body of create and update. Values are
// trimmed before the validate rules apply.
type ContactInput struct {
	Name         string  `json:"name"                   example:"Jane Doe"                 validate:"min=2,max=100"`
	Email        string  `json:"email"                  example:"jane@example.edu"         validate:"required,email"`
	Phone        string  `json:"phone"                  example:"9876543210"               validate:"len=10,number"`
	Institution  string  `json:"institution"            example:"Springfield University"   validate:"min=2,max=200"`
	Requirements *string `json:"requirements,omitempty" example:"Campus-wide licence"      validate:"omitempty,max=500" nullable:"true"`
}

func (in *ContactInput) contact() (*ds.Contact, error) {
	c := &ds.Contact{
		Name:        strings.TrimSpace(in.Name),
		Email:       strings.TrimSpace(in.Email),
		Phone:       in.Phone,
		Institution: strings.TrimSpace(in.Institution),
	}
	if in.Requirements != nil {
		if r := strings.TrimSpace(*in.Requirements); r != "" {
			c.Requirements = &r
		}
	}
	err := validateStruct(&ContactInput{
		Name:         c.Name,
		Email:        c.Email,
		Phone:        c.Phone,
		Institution:  c.Institution,
		Requirements: c.Requirements,
	})
	return c, err
}

// storeError converts the errors of [ds.ContactsStore] to status errors.
// Other errors are returned as is and end up as 500.
func storeError(err error) error {
	switch {
	case errors.Is(err, ds.ErrObjectNotFound):
		return huma.Error404NotFound(msgNotFound)
	case errors.Is(err, ds.ErrDuplicateEmail):
		return huma.Error409Conflict(msgDuplicateEmail)
	case errors.Is(err, ds.ErrInvalidInput):
		return invalidInput(msgNoIDs)
	default:
		return err
	}
}

func (h *Contacts) RegisterCreate(api huma.API) { // called by [huma.AutoRegister]
	huma.Post(api, "",
		handlerWithErrorHandler(h.create, h.ErrorHandler),
		opID("create-contact", "Create a contact"),
		opStatus(http.StatusCreated),
		opErrors(http.StatusBadRequest, http.StatusConflict, http.StatusInternalServerError),
	)
}

type ContactOutput struct {
	Body Envelope[ContactModel]
}

func (h *Contacts) create(ctx context.Context, input *struct {
	Body ContactInput
}) (*ContactOutput, error) {
	contact, err := input.Body.contact()
	if err != nil {
		return nil, err
	}

	created, err := h.Store.Create(ctx, contact)
	if err != nil {
		return nil, storeError(err)
	}

	out := &ContactOutput{Body: success(contactModel(created))}
	out.Body.Message = "Contact created successfully"
	return out, nil
}

func (h *Contacts) RegisterList(api huma.API) { // called by [huma.AutoRegister]
	huma.Get(api, "",
		handlerWithErrorHandler(h.list, h.ErrorHandler),
		opID("list-contacts", "List contacts"),
		opErrors(http.StatusBadRequest, http.StatusInternalServerError),
	)
}

type ContactsListOutput struct {
	Body Envelope[[]ContactModel]
}

func (h *Contacts) list(ctx context.Context, input *struct {
	Page   int    `query:"page"   default:"1"  doc:"Page number, starting at 1"`
	Limit  int    `query:"limit"  default:"10" doc:"Number of contacts per page"`
	Search string `query:"search"              doc:"Case-insensitive substring of name, email or institution"`
}) (*ContactsListOutput, error) {
	page, err := h.Store.List(ctx, input.Search, ds.Page{Number: input.Page, Size: input.Limit})
	if err != nil {
		return nil, storeError(err)
	}

	data := make([]ContactModel, 0, len(page.Contacts))
	for _, contact := range page.Contacts {
		data = append(data, contactModel(contact))
	}

	out := &ContactsListOutput{Body: success(data)}
	out.Body.Pagination = &Pagination{
		Page:  page.Page.Number,
		Limit: page.Page.Size,
		Total: page.Total,
		Pages: page.Pages(),
	}
	return out, nil
}

func (h *Contacts) RegisterStats(api huma.API) { // called by [huma.AutoRegister]
	huma.Get(api, "/stats",
		handlerWithErrorHandler(h.stats, h.ErrorHandler),
		opID("get-contacts-stats", "Get contact statistics"),
		opErrors(http.StatusInternalServerError),
	)
}

type StatsModel struct {
	TotalContacts     int                     `json:"totalContacts"`
	TodayContacts     int                     `json:"todayContacts"     doc:"Contacts created since local midnight"`
	ThisMonthContacts int                     `json:"thisMonthContacts" doc:"Contacts created since the first day of the month"`
	TopInstitutions   []InstitutionCountModel `json:"topInstitutions"   doc:"Up to ten institutions with the most contacts"`
}

type InstitutionCountModel struct {
	Institution string `json:"institution"`
	Count       int    `json:"count"`
}

type StatsOutput struct {
	Body Envelope[StatsModel]
}

func (h *Contacts) stats(ctx context.Context, _ *struct{}) (*StatsOutput, error) {
	stats, err := h.Store.Stats(ctx, now(h.Now))
	if err != nil {
		return nil, storeError(err)
	}

	data := StatsModel{
		TotalContacts:     stats.Total,
		TodayContacts:     stats.Today,
		ThisMonthContacts: stats.ThisMonth,
		TopInstitutions:   make([]InstitutionCountModel, 0, len(stats.TopInstitutions)),
	}
	for _, ic := range stats.TopInstitutions {
		data.TopInstitutions = append(data.TopInstitutions, InstitutionCountModel(ic))
	}
	return &StatsOutput{Body: success(data)}, nil
}

func (h *Contacts) RegisterExport(api huma.API) { // called by [huma.AutoRegister]
	huma.Get(api, "/export",
		handlerWithErrorHandler(h.export, h.ErrorHandler),
		opID("export-contacts", "Export contacts as CSV"),
		opErrors(http.StatusInternalServerError),
		func(o *huma.Operation) {
			o.Responses = map[string]*huma.Response{
				"200": {
					Description: "All contacts as CSV, newest first",
					Content:     map[string]*huma.MediaType{"text/csv": {}},
				},
			}
		},
	)
}

// export pulls the first contact before answering so that a failing store
// still gets a proper error response. Errors past that point can only be
// logged.
func (h *Contacts) export(ctx context.Context, _ *struct{}) (*huma.StreamResponse, error) {
	next, stop := iter.Pull2(h.Store.Export(ctx))
	first, err, more := next()
	if err != nil {
		stop()
		return nil, storeError(err)
	}

	return &huma.StreamResponse{Body: func(hctx huma.Context) {
		defer stop()
		hctx.SetHeader("Content-Type", "text/csv")
		hctx.SetHeader("Content-Disposition", "attachment; filename=contacts.csv")
		hctx.SetStatus(http.StatusOK)

		w := newContactsCSV(hctx.BodyWriter())
		for contact := first; more; contact, err, more = next() {
			if err != nil {
				h.streamError(ctx, fmt.Errorf("export contacts: %w", err))
				break
			}
			w.Write(contact)
		}
		if err := w.Flush(); err != nil {
			h.streamError(ctx, fmt.Errorf("export contacts: %w", err))
		}
	}}, nil
}

func (h *Contacts) streamError(ctx context.Context, err error) {
	if h.ErrorHandler != nil {
		h.ErrorHandler(ctx, err)
	}
}

func (h *Contacts) RegisterGet(api huma.API) { // called by [huma.AutoRegister]
	huma.Get(api, "/{id}",
		handlerWithErrorHandler(h.get, h.ErrorHandler),
		opID("get-contact", "Get a contact"),
		opErrors(http.StatusNotFound, http.StatusInternalServerError),
	)
}

type contactIDInput struct {
	ID string `path:"id" doc:"ID of the contact"`
}

// contactID parses the path id. A malformed id cannot name any contact.
func (in *contactIDInput) contactID() (ds.ContactID, error) {
	id, err := ds.ParseContactID(in.ID)
	if err != nil {
		return id, huma.Error404NotFound(msgNotFound)
	}
	return id, nil
}

func (h *Contacts) get(ctx context.Context, input *contactIDInput) (*ContactOutput, error) {
	id, err := input.contactID()
	if err != nil {
		return nil, err
	}

	contact, err := h.Store.Get(ctx, id)
	if err != nil {
		return nil, storeError(err)
	}
	return &ContactOutput{Body: success(contactModel(contact))}, nil
}

func (h *Contacts) RegisterPut(api huma.API) { // called by [huma.AutoRegister]
	huma.Put(api, "/{id}",
		handlerWithErrorHandler(h.put, h.ErrorHandler),
		opID("update-contact", "Update a contact"),
		opErrors(http.StatusBadRequest, http.StatusNotFound, http.StatusConflict, http.StatusInternalServerError),
	)
}

func (h *Contacts) put(ctx context.Context, input *struct {
	contactIDInput
	Body ContactInput
}) (*ContactOutput, error) {
	id, err := input.contactID()
	if err != nil {
		return nil, err
	}
	contact, err := input.Body.contact()
	if err != nil {
		return nil, err
	}

	updated, err := h.Store.Update(ctx, id, contact)
	if err != nil {
		return nil, storeError(err)
	}

	out := &ContactOutput{Body: success(contactModel(updated))}
	out.Body.Message = "Contact updated successfully"
	return out, nil
}

func (h *Contacts) RegisterDel(api huma.API) { // called by [huma.AutoRegister]
	huma.Delete(api, "/{id}",
		handlerWithErrorHandler(h.del, h.ErrorHandler),
		opID("delete-contact", "Delete a contact"),
		opErrors(http.StatusNotFound, http.StatusInternalServerError),
	)
}

type MessageOutput struct {
	Body MessageBody
}

func (h *Contacts) del(ctx context.Context, input *contactIDInput) (*MessageOutput, error) {
	id, err := input.contactID()
	if err != nil {
		return nil, err
	}

	if err := h.Store.Delete(ctx, id); err != nil {
		return nil, storeError(err)
	}
	return &MessageOutput{Body: MessageBody{Success: true, Message: "Contact deleted successfully"}}, nil
}

func (h *Contacts) RegisterBulkDelete(api huma.API) { // called by [huma.AutoRegister]
	huma.Post(api, "/bulk-delete",
		handlerWithErrorHandler(h.bulkDelete, h.ErrorHandler),
		opID("bulk-delete-contacts", "Delete several contacts"),
		opErrors(http.StatusBadRequest, http.StatusInternalServerError),
	)
}

type BulkDeleteModel struct {
	DeletedCount int `json:"deletedCount"`
}

type BulkDeleteOutput struct {
	Body Envelope[BulkDeleteModel]
}

func (h *Contacts) bulkDelete(ctx context.Context, input *struct {
	Body struct {
		IDs any `json:"ids,omitempty" doc:"IDs of the contacts to delete; unknown ids are ignored"`
	} `required:"false"`
}) (*BulkDeleteOutput, error) {
	values, ok := input.Body.IDs.([]any)
	if !ok || len(values) == 0 {
		return nil, invalidInput(msgNoIDs)
	}
	ss := make([]string, 0, len(values))
	for _, v := range values {
		if s, ok := v.(string); ok {
			ss = append(ss, s)
		}
	}

	var deleted int
	if ids := ds.ParseContactIDs(ss); len(ids) > 0 {
		var err error
		deleted, err = h.Store.BulkDelete(ctx, ids)
		if err != nil {
			return nil, storeError(err)
		}
	}

	out := &BulkDeleteOutput{Body: success(BulkDeleteModel{DeletedCount: deleted})}
	out.Body.Message = fmt.Sprintf("Successfully deleted %d contacts", deleted)
	return out, nil
}
