package loader

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/helixir/scopus-ingest/internal/database"
	"github.com/helixir/scopus-ingest/internal/scopus"
)

// Keyword type values stored in keywords.keyword_type and
// paper_keywords.keyword_type.
const (
	KeywordTypeAuthor  = "author"
	KeywordTypeIndexed = "indexed"
)

const dimensionStageCount = 5

// upsertDimensions bulk-upserts the deduplicated dimension sets of a batch
// and fills the id cache from the returned rows. Each dimension is one
// multi-row statement.
func (l *Loader) upsertDimensions(ctx context.Context, q database.DBTX, sets *scopus.DimensionSets, stage StageFunc) error {
	current := 0

	if len(sets.Sources) > 0 {
		reportStage(stage, fmt.Sprintf("upserting sources (%d)", len(sets.Sources)), current, dimensionStageCount)
		if err := l.upsertSources(ctx, q, sets.Sources); err != nil {
			return fmt.Errorf("failed to upsert sources: %w", err)
		}
	}
	current++

	if len(sets.Affiliations) > 0 {
		reportStage(stage, fmt.Sprintf("upserting affiliations (%d)", len(sets.Affiliations)), current, dimensionStageCount)
		if err := l.upsertAffiliations(ctx, q, sets.Affiliations); err != nil {
			return fmt.Errorf("failed to upsert affiliations: %w", err)
		}
	}
	current++

	if len(sets.Authors) > 0 {
		reportStage(stage, fmt.Sprintf("upserting authors (%d)", len(sets.Authors)), current, dimensionStageCount)
		if err := l.upsertAuthors(ctx, q, sets.Authors); err != nil {
			return fmt.Errorf("failed to upsert authors: %w", err)
		}
	}
	current++

	if len(sets.Subjects) > 0 {
		reportStage(stage, fmt.Sprintf("upserting subjects (%d)", len(sets.Subjects)), current, dimensionStageCount)
		if err := l.upsertSubjects(ctx, q, sets.Subjects); err != nil {
			return fmt.Errorf("failed to upsert subjects: %w", err)
		}
	}
	current++

	if len(sets.AuthorKeywords) > 0 || len(sets.IndexedKeywords) > 0 {
		reportStage(stage, fmt.Sprintf("upserting keywords (%d)", len(sets.AuthorKeywords)+len(sets.IndexedKeywords)), current, dimensionStageCount)
		if err := l.upsertKeywords(ctx, q, sets.AuthorKeywords, sets.IndexedKeywords); err != nil {
			return fmt.Errorf("failed to upsert keywords: %w", err)
		}
	}

	return nil
}

func (l *Loader) upsertSources(ctx context.Context, q database.DBTX, sources map[string]scopus.SourceRow) error {
	keys := sortedKeys(sources)

	valueStrings := make([]string, 0, len(keys))
	args := make([]interface{}, 0, len(keys)*7)
	for i, key := range keys {
		src := sources[key]
		base := i * 7
		valueStrings = append(valueStrings, fmt.Sprintf("($%d, $%d, $%d, $%d, $%d, $%d, $%d)",
			base+1, base+2, base+3, base+4, base+5, base+6, base+7))
		args = append(args, src.Name, src.Abbrev, src.ScopusSourceID,
			src.ISSNPrint, src.ISSNElectronic, src.Publisher, src.Type)
	}

	query := fmt.Sprintf(`
		INSERT INTO sources (source_name, source_abbrev, scopus_source_id, issn_print, issn_electronic, publisher, source_type)
		VALUES %s
		ON CONFLICT (scopus_source_id) DO UPDATE SET
			source_name = COALESCE(EXCLUDED.source_name, sources.source_name),
			source_abbrev = COALESCE(EXCLUDED.source_abbrev, sources.source_abbrev),
			issn_print = COALESCE(EXCLUDED.issn_print, sources.issn_print),
			issn_electronic = COALESCE(EXCLUDED.issn_electronic, sources.issn_electronic),
			publisher = COALESCE(EXCLUDED.publisher, sources.publisher),
			source_type = COALESCE(EXCLUDED.source_type, sources.source_type)
		RETURNING source_id, scopus_source_id`,
		strings.Join(valueStrings, ", "))

	rows, err := q.Query(ctx, query, args...)
	if err != nil {
		return err
	}
	defer rows.Close()

	count := 0
	for rows.Next() {
		var id int64
		var scopusID string
		if err := rows.Scan(&id, &scopusID); err != nil {
			return err
		}
		l.cache.sources[scopusID] = id
		count++
	}
	if err := rows.Err(); err != nil {
		return err
	}

	l.recordDimensionRows("sources", count)
	return nil
}

func (l *Loader) upsertAffiliations(ctx context.Context, q database.DBTX, affiliations map[string]scopus.AffiliationRow) error {
	keys := sortedKeys(affiliations)

	valueStrings := make([]string, 0, len(keys))
	args := make([]interface{}, 0, len(keys)*6)
	for i, key := range keys {
		aff := affiliations[key]
		base := i * 6
		valueStrings = append(valueStrings, fmt.Sprintf("($%d, $%d, $%d, $%d, $%d, $%d)",
			base+1, base+2, base+3, base+4, base+5, base+6))
		args = append(args, aff.ScopusAffiliationID, aff.Name, aff.City,
			aff.State, aff.Country, aff.PostalCode)
	}

	query := fmt.Sprintf(`
		INSERT INTO affiliations (scopus_affiliation_id, affiliation_name, city, state, country, postal_code)
		VALUES %s
		ON CONFLICT (scopus_affiliation_id) DO UPDATE SET
			affiliation_name = COALESCE(EXCLUDED.affiliation_name, affiliations.affiliation_name),
			city = COALESCE(EXCLUDED.city, affiliations.city),
			state = COALESCE(EXCLUDED.state, affiliations.state),
			country = COALESCE(EXCLUDED.country, affiliations.country),
			postal_code = COALESCE(EXCLUDED.postal_code, affiliations.postal_code)
		RETURNING affiliation_id, scopus_affiliation_id`,
		strings.Join(valueStrings, ", "))

	rows, err := q.Query(ctx, query, args...)
	if err != nil {
		return err
	}
	defer rows.Close()

	count := 0
	for rows.Next() {
		var id int64
		var scopusID string
		if err := rows.Scan(&id, &scopusID); err != nil {
			return err
		}
		l.cache.affiliations[scopusID] = id
		count++
	}
	if err := rows.Err(); err != nil {
		return err
	}

	l.recordDimensionRows("affiliations", count)
	return nil
}

func (l *Loader) upsertAuthors(ctx context.Context, q database.DBTX, authors map[string]scopus.AuthorRow) error {
	keys := sortedKeys(authors)

	valueStrings := make([]string, 0, len(keys))
	args := make([]interface{}, 0, len(keys)*5)
	for i, key := range keys {
		author := authors[key]
		base := i * 5
		valueStrings = append(valueStrings, fmt.Sprintf("($%d, $%d, $%d, $%d, $%d)",
			base+1, base+2, base+3, base+4, base+5))
		args = append(args, author.AUID, author.Surname, author.GivenName,
			author.Initials, author.IndexedName)
	}

	query := fmt.Sprintf(`
		INSERT INTO authors (auid, surname, given_name, initials, indexed_name)
		VALUES %s
		ON CONFLICT (auid) DO UPDATE SET
			surname = COALESCE(EXCLUDED.surname, authors.surname),
			given_name = COALESCE(EXCLUDED.given_name, authors.given_name),
			initials = COALESCE(EXCLUDED.initials, authors.initials),
			indexed_name = COALESCE(EXCLUDED.indexed_name, authors.indexed_name)
		RETURNING author_id, auid`,
		strings.Join(valueStrings, ", "))

	rows, err := q.Query(ctx, query, args...)
	if err != nil {
		return err
	}
	defer rows.Close()

	count := 0
	for rows.Next() {
		var id int64
		var auid string
		if err := rows.Scan(&id, &auid); err != nil {
			return err
		}
		l.cache.authors[auid] = id
		count++
	}
	if err := rows.Err(); err != nil {
		return err
	}

	l.recordDimensionRows("authors", count)
	return nil
}

func (l *Loader) upsertSubjects(ctx context.Context, q database.DBTX, subjects map[string]scopus.SubjectRow) error {
	keys := sortedKeys(subjects)

	valueStrings := make([]string, 0, len(keys))
	args := make([]interface{}, 0, len(keys)*3)
	for i, key := range keys {
		subject := subjects[key]
		base := i * 3
		valueStrings = append(valueStrings, fmt.Sprintf("($%d, $%d, $%d)", base+1, base+2, base+3))
		args = append(args, subject.Code, subject.Name, subject.Abbrev)
	}

	query := fmt.Sprintf(`
		INSERT INTO subject_areas (subject_code, subject_name, subject_abbrev)
		VALUES %s
		ON CONFLICT (subject_code) DO UPDATE SET
			subject_name = COALESCE(EXCLUDED.subject_name, subject_areas.subject_name),
			subject_abbrev = COALESCE(EXCLUDED.subject_abbrev, subject_areas.subject_abbrev)
		RETURNING subject_area_id, subject_code`,
		strings.Join(valueStrings, ", "))

	rows, err := q.Query(ctx, query, args...)
	if err != nil {
		return err
	}
	defer rows.Close()

	count := 0
	for rows.Next() {
		var id int64
		var code string
		if err := rows.Scan(&id, &code); err != nil {
			return err
		}
		l.cache.subjects[code] = id
		count++
	}
	if err := rows.Err(); err != nil {
		return err
	}

	l.recordDimensionRows("subjects", count)
	return nil
}

// upsertKeywords merges author and indexed keyword sets into one statement.
// A keyword appearing in both sets is stored with the author type; the type
// of an existing keyword row is never changed on conflict.
func (l *Loader) upsertKeywords(ctx context.Context, q database.DBTX, authorKeywords, indexedKeywords map[string]struct{}) error {
	type keywordRow struct {
		keyword string
		kind    string
	}

	rows := make([]keywordRow, 0, len(authorKeywords)+len(indexedKeywords))
	for kw := range authorKeywords {
		rows = append(rows, keywordRow{keyword: kw, kind: KeywordTypeAuthor})
	}
	for kw := range indexedKeywords {
		if _, ok := authorKeywords[kw]; ok {
			continue
		}
		rows = append(rows, keywordRow{keyword: kw, kind: KeywordTypeIndexed})
	}
	sort.Slice(rows, func(i, j int) bool { return rows[i].keyword < rows[j].keyword })

	valueStrings := make([]string, 0, len(rows))
	args := make([]interface{}, 0, len(rows)*2)
	for i, row := range rows {
		valueStrings = append(valueStrings, fmt.Sprintf("($%d, $%d)", i*2+1, i*2+2))
		args = append(args, row.keyword, row.kind)
	}

	query := fmt.Sprintf(`
		INSERT INTO keywords (keyword, keyword_type)
		VALUES %s
		ON CONFLICT (keyword) DO UPDATE SET keyword = EXCLUDED.keyword
		RETURNING keyword_id, keyword`,
		strings.Join(valueStrings, ", "))

	result, err := q.Query(ctx, query, args...)
	if err != nil {
		return err
	}
	defer result.Close()

	count := 0
	for result.Next() {
		var id int64
		var keyword string
		if err := result.Scan(&id, &keyword); err != nil {
			return err
		}
		l.cache.keywords[keyword] = id
		count++
	}
	if err := result.Err(); err != nil {
		return err
	}

	l.recordDimensionRows("keywords", count)
	return nil
}

// fallbackUpsertAuthor resolves one author missed by the bulk stage.
func (l *Loader) fallbackUpsertAuthor(ctx context.Context, q database.DBTX, author scopus.AuthorRow) (int64, error) {
	query := `
		INSERT INTO authors (auid, surname, given_name, initials, indexed_name)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (auid) DO UPDATE SET
			surname = COALESCE(EXCLUDED.surname, authors.surname),
			given_name = COALESCE(EXCLUDED.given_name, authors.given_name),
			initials = COALESCE(EXCLUDED.initials, authors.initials),
			indexed_name = COALESCE(EXCLUDED.indexed_name, authors.indexed_name)
		RETURNING author_id`

	var id int64
	err := q.QueryRow(ctx, query,
		author.AUID, author.Surname, author.GivenName, author.Initials, author.IndexedName,
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("failed to upsert author %s: %w", author.AUID, err)
	}

	l.cache.authors[author.AUID] = id
	l.recordFallbackUpsert("authors")
	return id, nil
}

// fallbackUpsertSubject resolves one subject area missed by the bulk stage.
func (l *Loader) fallbackUpsertSubject(ctx context.Context, q database.DBTX, subject scopus.SubjectRow) (int64, error) {
	query := `
		INSERT INTO subject_areas (subject_code, subject_name, subject_abbrev)
		VALUES ($1, $2, $3)
		ON CONFLICT (subject_code) DO UPDATE SET
			subject_name = COALESCE(EXCLUDED.subject_name, subject_areas.subject_name),
			subject_abbrev = COALESCE(EXCLUDED.subject_abbrev, subject_areas.subject_abbrev)
		RETURNING subject_area_id`

	var id int64
	err := q.QueryRow(ctx, query, subject.Code, subject.Name, subject.Abbrev).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("failed to upsert subject area %s: %w", subject.Code, err)
	}

	l.cache.subjects[subject.Code] = id
	l.recordFallbackUpsert("subjects")
	return id, nil
}

// fallbackUpsertKeyword resolves one keyword missed by the bulk stage.
func (l *Loader) fallbackUpsertKeyword(ctx context.Context, q database.DBTX, keyword, kind string) (int64, error) {
	query := `
		INSERT INTO keywords (keyword, keyword_type)
		VALUES ($1, $2)
		ON CONFLICT (keyword) DO UPDATE SET keyword = EXCLUDED.keyword
		RETURNING keyword_id`

	var id int64
	if err := q.QueryRow(ctx, query, keyword, kind).Scan(&id); err != nil {
		return 0, fmt.Errorf("failed to upsert keyword %q: %w", keyword, err)
	}

	l.cache.keywords[keyword] = id
	l.recordFallbackUpsert("keywords")
	return id, nil
}

// resolveSourceID returns the internal id of the record's venue, performing a
// single-row fallback upsert on a cache miss. Records without any venue
// information resolve to nil.
func (l *Loader) resolveSourceID(ctx context.Context, q database.DBTX, rec *scopus.Record) (*int64, error) {
	src, ok := rec.SourceRow()
	if ok {
		if id, hit := l.cache.sources[src.ScopusSourceID]; hit {
			return &id, nil
		}
	} else if rec.CoreData == nil || rec.CoreData.PublicationName == "" {
		return nil, nil
	} else {
		src.Name = rec.CoreData.PublicationName.Ptr()
		src.Publisher = rec.CoreData.Publisher.Ptr()
	}

	query := `
		INSERT INTO sources (source_name, source_abbrev, scopus_source_id, issn_print, issn_electronic, publisher, source_type)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (scopus_source_id) DO UPDATE SET
			source_name = COALESCE(EXCLUDED.source_name, sources.source_name)
		RETURNING source_id`

	var scopusSourceID *string
	if src.ScopusSourceID != "" {
		scopusSourceID = &src.ScopusSourceID
	}

	var id int64
	err := q.QueryRow(ctx, query,
		src.Name, src.Abbrev, scopusSourceID,
		src.ISSNPrint, src.ISSNElectronic, src.Publisher, src.Type,
	).Scan(&id)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve source: %w", err)
	}

	if src.ScopusSourceID != "" {
		l.cache.sources[src.ScopusSourceID] = id
	}
	l.recordFallbackUpsert("sources")
	return &id, nil
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
