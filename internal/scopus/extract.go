package scopus

import (
	"encoding/json"
	"fmt"
)

// ParseRecord decodes a raw JSON document into a Record, unwrapping the
// abstracts-retrieval-response envelope when present.
func ParseRecord(data []byte) (*Record, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("failed to decode record: %w", err)
	}
	if env.Response != nil {
		return env.Response, nil
	}

	var rec Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("failed to decode record: %w", err)
	}
	return &rec, nil
}

// Validate checks that the record carries the core fields every downstream
// write depends on.
func (r *Record) Validate() error {
	if r.CoreData == nil {
		return fmt.Errorf("missing coredata")
	}
	if r.CoreData.Identifier == "" {
		return fmt.Errorf("missing dc:identifier")
	}
	return nil
}

// ScopusID returns the record's natural key.
func (r *Record) ScopusID() string {
	if r.CoreData == nil {
		return ""
	}
	return r.CoreData.Identifier
}

// Ptr returns a pointer to the decoded string, or nil when it is empty.
// Empty values map to SQL NULL so that coalescing merges never overwrite
// stored attributes with blanks.
func (f FlexString) Ptr() *string {
	if f == "" {
		return nil
	}
	s := string(f)
	return &s
}

// SourceRow is a deduplicated publication venue keyed by its Scopus source id.
type SourceRow struct {
	ScopusSourceID string
	Name           *string
	Abbrev         *string
	ISSNPrint      *string
	ISSNElectronic *string
	Publisher      *string
	Type           *string
}

// AffiliationRow is a deduplicated institution keyed by its Scopus
// affiliation id.
type AffiliationRow struct {
	ScopusAffiliationID string
	Name                *string
	City                *string
	State               *string
	Country             *string
	PostalCode          *string
}

// AuthorRow is a deduplicated author keyed by AUID.
type AuthorRow struct {
	AUID        string
	Surname     *string
	GivenName   *string
	Initials    *string
	IndexedName *string
}

// SubjectRow is a deduplicated ASJC subject area keyed by subject code.
type SubjectRow struct {
	Code   string
	Name   *string
	Abbrev *string
}

// DimensionSets holds the deduplicated dimension rows gathered from a batch.
// Within each map the first occurrence of a natural key wins.
type DimensionSets struct {
	Sources         map[string]SourceRow
	Affiliations    map[string]AffiliationRow
	Authors         map[string]AuthorRow
	Subjects        map[string]SubjectRow
	AuthorKeywords  map[string]struct{}
	IndexedKeywords map[string]struct{}
}

// NewDimensionSets returns an empty DimensionSets.
func NewDimensionSets() *DimensionSets {
	return &DimensionSets{
		Sources:         make(map[string]SourceRow),
		Affiliations:    make(map[string]AffiliationRow),
		Authors:         make(map[string]AuthorRow),
		Subjects:        make(map[string]SubjectRow),
		AuthorKeywords:  make(map[string]struct{}),
		IndexedKeywords: make(map[string]struct{}),
	}
}

// ExtractDimensions walks a batch of records and gathers the deduplicated
// dimension rows referenced anywhere in it. When skipSourcesAffiliations is
// true the sources and affiliations sets are left empty; authors, subjects,
// and keywords are always gathered.
func ExtractDimensions(records []*Record, skipSourcesAffiliations bool) *DimensionSets {
	sets := NewDimensionSets()

	for _, rec := range records {
		if rec == nil {
			continue
		}

		if !skipSourcesAffiliations {
			if src, ok := rec.SourceRow(); ok {
				if _, seen := sets.Sources[src.ScopusSourceID]; !seen {
					sets.Sources[src.ScopusSourceID] = src
				}
			}
			for _, aff := range rec.Affiliations {
				if aff.ID == "" {
					continue
				}
				if _, seen := sets.Affiliations[aff.ID]; seen {
					continue
				}
				sets.Affiliations[aff.ID] = AffiliationRow{
					ScopusAffiliationID: aff.ID,
					Name:                aff.Name.Ptr(),
					City:                aff.City.Ptr(),
					State:               aff.State.Ptr(),
					Country:             aff.Country.Ptr(),
					PostalCode:          aff.PostalCode.Ptr(),
				}
			}
		}

		for _, author := range rec.AuthorList() {
			if author.AUID == "" {
				continue
			}
			if _, seen := sets.Authors[author.AUID]; seen {
				continue
			}
			sets.Authors[author.AUID] = AuthorRow{
				AUID:        author.AUID,
				Surname:     author.Surname.Ptr(),
				GivenName:   FlexString(author.GivenName()).Ptr(),
				Initials:    author.Initials.Ptr(),
				IndexedName: author.IndexedName.Ptr(),
			}
		}

		for _, sa := range rec.SubjectAreaList() {
			if sa.Code == "" {
				continue
			}
			if _, seen := sets.Subjects[sa.Code]; seen {
				continue
			}
			sets.Subjects[sa.Code] = SubjectRow{
				Code:   sa.Code,
				Name:   sa.Name.Ptr(),
				Abbrev: FlexString(sa.Abbrev).Ptr(),
			}
		}

		for _, kw := range rec.AuthorKeywordList() {
			sets.AuthorKeywords[kw] = struct{}{}
		}
		for _, kw := range rec.IndexedKeywordList() {
			sets.IndexedKeywords[kw] = struct{}{}
		}
	}

	return sets
}

// SourceRow builds the venue dimension row for the record. The second return
// value is false when the record carries no Scopus source id.
func (r *Record) SourceRow() (SourceRow, bool) {
	src := r.rawSource()
	if src == nil || src.SrcID == "" {
		return SourceRow{}, false
	}

	var issnPrint, issnElectronic *string
	for _, issn := range src.ISSN {
		switch issn.Type {
		case "print":
			issnPrint = issn.Value.Ptr()
		case "electronic":
			issnElectronic = issn.Value.Ptr()
		}
	}

	row := SourceRow{
		ScopusSourceID: src.SrcID,
		Abbrev:         src.TitleAbbrev.Ptr(),
		ISSNPrint:      issnPrint,
		ISSNElectronic: issnElectronic,
		Type:           FlexString(src.Type).Ptr(),
	}
	if r.CoreData != nil {
		row.Name = r.CoreData.PublicationName.Ptr()
		row.Publisher = r.CoreData.Publisher.Ptr()
	}
	return row, true
}

func (r *Record) rawSource() *RawSource {
	if r.Item == nil || r.Item.Bibrecord == nil || r.Item.Bibrecord.Head == nil {
		return nil
	}
	return r.Item.Bibrecord.Head.Source
}

// AuthorList returns the record's authors, or nil when absent.
func (r *Record) AuthorList() []RawAuthor {
	if r.Authors == nil {
		return nil
	}
	return r.Authors.Author
}

// SubjectAreaList returns the record's subject classifications, or nil when
// absent.
func (r *Record) SubjectAreaList() []RawSubjectArea {
	if r.SubjectAreas == nil {
		return nil
	}
	return r.SubjectAreas.SubjectArea
}

// AuthorKeywordList returns the non-empty author keywords of the record.
func (r *Record) AuthorKeywordList() []string {
	if r.AuthKeywords == nil {
		return nil
	}
	return flexStrings(r.AuthKeywords.Keyword)
}

// IndexedKeywordList returns the non-empty indexed terms of the record.
func (r *Record) IndexedKeywordList() []string {
	if r.IdxTerms == nil {
		return nil
	}
	return flexStrings(r.IdxTerms.Term)
}

// ReferenceList returns the cited references of the record, or nil when the
// bibliography is absent.
func (r *Record) ReferenceList() []RawReference {
	if r.Item == nil || r.Item.Bibrecord == nil || r.Item.Bibrecord.Tail == nil {
		return nil
	}
	bib := r.Item.Bibrecord.Tail.Bibliography
	if bib == nil {
		return nil
	}
	return bib.Reference
}

// FundingList returns the funding entries of the record, or nil when absent.
func (r *Record) FundingList() []RawFunding {
	if r.Item == nil || r.Item.Meta == nil || r.Item.Meta.FundingList == nil {
		return nil
	}
	return r.Item.Meta.FundingList.Funding
}

func flexStrings(values []FlexString) []string {
	var out []string
	for _, v := range values {
		if v == "" {
			continue
		}
		out = append(out, string(v))
	}
	return out
}
