// Package watch defines the core types shared across the acquisition pipeline.
package watch

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// ErrNotFound is returned by repositories when no row matches.
var ErrNotFound = errors.New("not found")

// ErrInvalidNumber is returned when a user-submitted number cannot be parsed.
var ErrInvalidNumber = errors.New("invalid personal number")

// ErrDuplicateSource is returned when a Source with the same URL already exists.
var ErrDuplicateSource = errors.New("source url already exists")

// SourceState represents the retrieval state of a downloaded document.
type SourceState string

// Source states persisted in the sources table.
const (
	SourceStateOK         SourceState = "OK"
	SourceStateBadSource  SourceState = "BAD_SOURCE"
	SourceStateInvalidPDF SourceState = "INVALID_PDF"
)

// Valid reports whether s is one of the known states.
func (s SourceState) Valid() bool {
	switch s {
	case SourceStateOK, SourceStateBadSource, SourceStateInvalidPDF:
		return true
	default:
		return false
	}
}

// Identifier is the number/code/year triple shared by parsed and watched numbers.
// Code is stored uppercase; an empty Code means the identifier has none.
type Identifier struct {
	Number int64  `json:"number"`
	Code   string `json:"code,omitempty"`
	Year   int    `json:"year"`
}

// HasCode reports whether the identifier carries a classification code.
func (id Identifier) HasCode() bool {
	return id.Code != ""
}

// String formats the identifier the way it appears in publications.
func (id Identifier) String() string {
	if id.HasCode() {
		return fmt.Sprintf("%d/%s/%d", id.Number, id.Code, id.Year)
	}
	return fmt.Sprintf("%d/%d", id.Number, id.Year)
}

var (
	identifierPattern = regexp.MustCompile(`^(\d{3,})/(?:([A-Za-z]{1,5})/)?(\d{1,4})$`)
	identifierJunk    = regexp.MustCompile(`[^0-9A-Za-z/]`)
)

// ParseIdentifier parses user input such as "12345/2021" or "12345/ab/2021".
// Characters other than ASCII letters, digits and slashes are dropped first.
func ParseIdentifier(raw string) (Identifier, error) {
	m := identifierPattern.FindStringSubmatch(identifierJunk.ReplaceAllString(raw, ""))
	if m == nil {
		return Identifier{}, fmt.Errorf("%w: %q", ErrInvalidNumber, raw)
	}
	number, err := strconv.ParseInt(m[1], 10, 64)
	if err != nil {
		return Identifier{}, fmt.Errorf("%w: number %q: %v", ErrInvalidNumber, m[1], err)
	}
	year, err := strconv.Atoi(m[3])
	if err != nil {
		return Identifier{}, fmt.Errorf("%w: year %q: %v", ErrInvalidNumber, m[3], err)
	}
	return Identifier{Number: number, Code: strings.ToUpper(m[2]), Year: year}, nil
}

// Source is one discovered remote document.
type Source struct {
	ID          int64       `json:"id"`
	URL         string      `json:"url"`
	Name        string      `json:"name"`
	FileName    string      `json:"file_name"`
	State       SourceState `json:"state"`
	ProcessedAt *time.Time  `json:"processed_at,omitempty"`
	CreatedAt   time.Time   `json:"created_at"`
	UpdatedAt   time.Time   `json:"updated_at"`
}

// Pending reports whether the parser should still pick the source up.
func (s Source) Pending() bool {
	return s.ProcessedAt == nil && s.State == SourceStateOK
}

// InfoNumber is one identifier extracted from a Source's text.
type InfoNumber struct {
	ID int64 `json:"id"`
	Identifier
	SourceID  int64     `json:"source_id"`
	CreatedAt time.Time `json:"created_at"`
}

// UserNumber is one user's watch request for an identifier.
type UserNumber struct {
	ID int64 `json:"id"`
	Identifier
	UserID       int64      `json:"user_id"`
	InfoNumberID *int64     `json:"info_number_id,omitempty"`
	Enabled      bool       `json:"enabled"`
	SearchAt     *time.Time `json:"search_at,omitempty"`
	Label        string     `json:"label,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
}

// Matched reports whether the watch has been resolved.
func (u UserNumber) Matched() bool {
	return u.InfoNumberID != nil
}
