package datastores

import (
	_ "encoding" // for documentation links to [encoding]
	"encoding/base64"
	"errors"

	"github.com/google/uuid"
)

// ContactID is a [uuid.UUID] (version 7) that uses a strict [base64.RawURLEncoding]
// to marshal to and from text.
type ContactID uuid.UUID

var (
	errContactIDLength = errors.New("invalid contact id length")

	contactIDEncoding = base64.RawURLEncoding.Strict()
)

func newContactID() ContactID { return ContactID(uuid.Must(uuid.NewV7())) }

// ParseContactID decodes the text form of a [ContactID].
func ParseContactID(s string) (ContactID, error) {
	var id ContactID
	err := id.UnmarshalText([]byte(s))
	return id, err
}

// ParseContactIDs decodes every string of ss, dropping those that are not
// valid ids. The order of the valid ids is preserved.
func ParseContactIDs(ss []string) []ContactID {
	ids := make([]ContactID, 0, len(ss))
	for _, s := range ss {
		id, err := ParseContactID(s)
		if err == nil {
			ids = append(ids, id)
		}
	}
	return ids
}

func (ContactID) encoding() *base64.Encoding { return contactIDEncoding }

func (id ContactID) encodedLen() int {
	return id.encoding().EncodedLen(len(id))
}

func (id ContactID) IsZero() bool { return id == ContactID{} }

func (id ContactID) String() string {
	b, _ := id.AppendText(nil)
	return string(b)
}

// AppendText implements [encoding.TextAppender].
func (id ContactID) AppendText(b []byte) ([]byte, error) {
	return id.encoding().AppendEncode(b, id[:]), nil
}

// MarshalText implements [encoding.TextMarshaler].
func (id ContactID) MarshalText() ([]byte, error) {
	return id.AppendText(nil)
}

// UnmarshalText implements [encoding.TextUnmarshaler].
func (id *ContactID) UnmarshalText(b []byte) error {
	if len(b) != id.encodedLen() {
		return errContactIDLength
	}
	_, err := id.encoding().Decode(id[:], b)
	return err
}
