// Package scopus defines the wire types for Scopus abstract retrieval
// records and the extraction of typed field groups from them.
package scopus

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
)

// FlexList decodes a JSON value that may be either a single object or an
// array of objects. Scopus serializes single-element collections as a bare
// object instead of a one-element array.
type FlexList[T any] []T

// UnmarshalJSON implements json.Unmarshaler.
func (f *FlexList[T]) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*f = nil
		return nil
	}

	if data[0] == '[' {
		var items []T
		if err := json.Unmarshal(data, &items); err != nil {
			return err
		}
		*f = items
		return nil
	}

	var single T
	if err := json.Unmarshal(data, &single); err != nil {
		return err
	}
	*f = []T{single}
	return nil
}

// FlexString decodes a JSON value that may be a bare string, a number, or a
// wrapper object of the form {"$": "value"}.
type FlexString string

// UnmarshalJSON implements json.Unmarshaler.
func (f *FlexString) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*f = ""
		return nil
	}

	switch data[0] {
	case '"':
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*f = FlexString(s)
		return nil
	case '{':
		var wrapper struct {
			Value json.RawMessage `json:"$"`
		}
		if err := json.Unmarshal(data, &wrapper); err != nil {
			return err
		}
		if len(wrapper.Value) == 0 {
			*f = ""
			return nil
		}
		var inner FlexString
		if err := inner.UnmarshalJSON(wrapper.Value); err != nil {
			return err
		}
		*f = inner
		return nil
	default:
		// Numeric literal; keep its textual form.
		var n json.Number
		if err := json.Unmarshal(data, &n); err != nil {
			return fmt.Errorf("unexpected JSON value: %s", string(data))
		}
		*f = FlexString(n.String())
		return nil
	}
}

// String returns the decoded string value.
func (f FlexString) String() string {
	return string(f)
}

// Record is a single Scopus abstract retrieval record. Field names follow
// the namespaced keys of the Scopus abstract retrieval API response.
type Record struct {
	CoreData     *CoreData                `json:"coredata"`
	Affiliations FlexList[RawAffiliation] `json:"affiliation"`
	Authors      *AuthorGroup             `json:"authors"`
	SubjectAreas *SubjectAreas            `json:"subject-areas"`
	AuthKeywords *AuthKeywords            `json:"authkeywords"`
	IdxTerms     *IdxTerms                `json:"idxterms"`
	Item         *Item                    `json:"item"`
}

// Envelope is the top-level wrapper the Scopus API returns around a record.
type Envelope struct {
	Response *Record `json:"abstracts-retrieval-response"`
}

// CoreData holds the bibliographic core of a record.
type CoreData struct {
	Identifier      string     `json:"dc:identifier"`
	EID             string     `json:"eid"`
	DOI             string     `json:"prism:doi"`
	Title           FlexString `json:"dc:title"`
	Description     FlexString `json:"dc:description"`
	CoverDate       string     `json:"prism:coverDate"`
	PublicationName FlexString `json:"prism:publicationName"`
	Publisher       FlexString `json:"dc:publisher"`
	AggregationType string     `json:"prism:aggregationType"`
	Volume          FlexString `json:"prism:volume"`
	IssueIdentifier FlexString `json:"prism:issueIdentifier"`
	PageRange       FlexString `json:"prism:pageRange"`
	StartingPage    FlexString `json:"prism:startingPage"`
	EndingPage      FlexString `json:"prism:endingPage"`
	CitedByCount    FlexString `json:"citedby-count"`
	OpenAccess      FlexString `json:"openaccess"`
	Subtype         string     `json:"subtype"`
	SubtypeDesc     string     `json:"subtypeDescription"`
}

// CitedBy parses the citation count, defaulting to zero when absent or
// unparseable.
func (c *CoreData) CitedBy() int {
	n, err := strconv.Atoi(string(c.CitedByCount))
	if err != nil {
		return 0
	}
	return n
}

// IsOpenAccess reports whether the record is flagged open access.
// Scopus encodes open access as the string "2".
func (c *CoreData) IsOpenAccess() bool {
	return string(c.OpenAccess) == "2"
}

// Year returns the four-digit publication year parsed from the cover date,
// or zero when the cover date is missing or too short.
func (c *CoreData) Year() int {
	if len(c.CoverDate) < 4 {
		return 0
	}
	y, err := strconv.Atoi(c.CoverDate[:4])
	if err != nil {
		return 0
	}
	return y
}

// RawAffiliation is an affiliation entry at the record top level.
type RawAffiliation struct {
	ID         string     `json:"@id"`
	Name       FlexString `json:"affilname"`
	City       FlexString `json:"affiliation-city"`
	State      FlexString `json:"state"`
	Country    FlexString `json:"affiliation-country"`
	PostalCode FlexString `json:"postal-code"`
}

// AuthorGroup wraps the author list.
type AuthorGroup struct {
	Author FlexList[RawAuthor] `json:"author"`
}

// RawAuthor is a single author entry.
type RawAuthor struct {
	AUID          string                   `json:"@auid"`
	Seq           FlexString               `json:"@seq"`
	Surname       FlexString               `json:"ce:surname"`
	Initials      FlexString               `json:"ce:initials"`
	IndexedName   FlexString               `json:"ce:indexed-name"`
	PreferredName *PreferredName           `json:"preferred-name"`
	Affiliations  FlexList[AuthorAffilRef] `json:"affiliation"`
}

// Sequence parses the author position, defaulting to zero.
func (a *RawAuthor) Sequence() int {
	n, err := strconv.Atoi(string(a.Seq))
	if err != nil {
		return 0
	}
	return n
}

// GivenName returns the author's preferred given name when present.
func (a *RawAuthor) GivenName() string {
	if a.PreferredName == nil {
		return ""
	}
	return string(a.PreferredName.GivenName)
}

// PreferredName holds the preferred name variant of an author.
type PreferredName struct {
	GivenName FlexString `json:"ce:given-name"`
}

// AuthorAffilRef is an affiliation reference attached to an author.
type AuthorAffilRef struct {
	ID string `json:"@id"`
}

// SubjectAreas wraps the subject area list.
type SubjectAreas struct {
	SubjectArea FlexList[RawSubjectArea] `json:"subject-area"`
}

// RawSubjectArea is a single ASJC subject classification entry.
type RawSubjectArea struct {
	Code   string     `json:"@code"`
	Name   FlexString `json:"$"`
	Abbrev string     `json:"@abbrev"`
}

// AuthKeywords wraps the author keyword list.
type AuthKeywords struct {
	Keyword FlexList[FlexString] `json:"author-keyword"`
}

// IdxTerms wraps the indexed term list.
type IdxTerms struct {
	Term FlexList[FlexString] `json:"idxterm"`
}

// Item holds the bibrecord and extended metadata sections.
type Item struct {
	Bibrecord *Bibrecord `json:"bibrecord"`
	Meta      *XocsMeta  `json:"xocs:meta"`
}

// Bibrecord holds the head and tail of the bibliographic record.
type Bibrecord struct {
	Head *BibHead `json:"head"`
	Tail *BibTail `json:"tail"`
}

// BibHead holds source metadata.
type BibHead struct {
	Source *RawSource `json:"source"`
}

// RawSource is the publication venue of a record.
type RawSource struct {
	SrcID       string            `json:"@srcid"`
	TitleAbbrev FlexString        `json:"sourcetitle-abbrev"`
	Type        string            `json:"@type"`
	ISSN        FlexList[RawISSN] `json:"issn"`
}

// RawISSN is a typed ISSN entry. Type is "print" or "electronic".
type RawISSN struct {
	Type  string     `json:"@type"`
	Value FlexString `json:"$"`
}

// BibTail holds the bibliography section.
type BibTail struct {
	Bibliography *Bibliography `json:"bibliography"`
}

// Bibliography wraps the reference list of a record.
type Bibliography struct {
	Reference FlexList[RawReference] `json:"reference"`
}

// RawReference is a single cited reference.
type RawReference struct {
	ID       FlexString        `json:"@id"`
	FullText FlexString        `json:"ref-fulltext"`
	Info     *RawReferenceInfo `json:"ref-info"`
}

// Sequence parses the reference position within the bibliography.
func (r *RawReference) Sequence() int {
	n, err := strconv.Atoi(string(r.ID))
	if err != nil {
		return 0
	}
	return n
}

// RawReferenceInfo holds structured fields of a cited reference.
type RawReferenceInfo struct {
	PublicationYear *RefYear      `json:"ref-publicationyear"`
	VolIssPag       *RefVolIssPag `json:"ref-volisspag"`
}

// RefYear holds the cited publication year.
type RefYear struct {
	First FlexString `json:"@first"`
}

// RefVolIssPag holds cited volume and page information.
type RefVolIssPag struct {
	VolIss    *RefVolIss    `json:"voliss"`
	PageRange *RefPageRange `json:"pagerange"`
}

// RefVolIss holds the cited volume.
type RefVolIss struct {
	Volume FlexString `json:"@volume"`
}

// RefPageRange holds the cited first page.
type RefPageRange struct {
	First FlexString `json:"@first"`
}

// XocsMeta holds the extended Scopus metadata section.
type XocsMeta struct {
	FundingList *FundingList `json:"xocs:funding-list"`
}

// FundingList wraps the funding entries of a record.
type FundingList struct {
	Funding FlexList[RawFunding] `json:"xocs:funding"`
}

// RawFunding is a single funding agency entry.
type RawFunding struct {
	AgencyID      FlexString           `json:"xocs:funding-agency-id"`
	Agency        FlexString           `json:"xocs:funding-agency"`
	AgencyAcronym FlexString           `json:"xocs:funding-agency-acronym"`
	AgencyCountry FlexString           `json:"xocs:funding-agency-country"`
	FundingID     FlexList[FlexString] `json:"xocs:funding-id"`
}
