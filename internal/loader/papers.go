package loader

import (
	"context"
	"fmt"
	"strings"

	"github.com/helixir/scopus-ingest/internal/database"
	"github.com/helixir/scopus-ingest/internal/domain"
	"github.com/helixir/scopus-ingest/internal/scopus"
)

const linkStageCount = 7

// paperRow holds the column values for one papers insert row.
type paperRow struct {
	scopusID        string
	eid             *string
	doi             *string
	title           *string
	abstract        *string
	publicationDate *string
	publicationYear *int
	sourceID        *int64
	sourceType      *string
	volume          *string
	issue           *string
	pageRange       *string
	startPage       *string
	endPage         *string
	citedByCount    int
	openAccess      bool
	documentType    *string
	subtypeDesc     *string
}

// insertPapersAndLinks writes the paper rows and every relational link table
// for a batch, returning internal paper ids aligned to the input order.
func (l *Loader) insertPapersAndLinks(ctx context.Context, q database.DBTX, records []*scopus.Record, progress ProgressFunc, stage StageFunc) ([]int64, error) {
	total := len(records)

	// Stage 1: gather paper rows and resolve venues.
	reportStage(stage, "gathering papers", 0, linkStageCount)
	paperRows := make([]paperRow, 0, total)
	rowIndex := make(map[string]int, total)
	scopusIDsInOrder := make([]string, 0, total)
	for idx, rec := range records {
		core := rec.CoreData
		sourceID, err := l.resolveSourceID(ctx, q, rec)
		if err != nil {
			return nil, err
		}

		var pubDate *string
		var pubYear *int
		if core.CoverDate != "" {
			d := core.CoverDate
			pubDate = &d
			if y := core.Year(); y != 0 {
				pubYear = &y
			}
		}

		row := paperRow{
			scopusID:        core.Identifier,
			eid:             scopus.FlexString(core.EID).Ptr(),
			doi:             scopus.FlexString(core.DOI).Ptr(),
			title:           core.Title.Ptr(),
			abstract:        core.Description.Ptr(),
			publicationDate: pubDate,
			publicationYear: pubYear,
			sourceID:        sourceID,
			sourceType:      scopus.FlexString(core.AggregationType).Ptr(),
			volume:          core.Volume.Ptr(),
			issue:           core.IssueIdentifier.Ptr(),
			pageRange:       core.PageRange.Ptr(),
			startPage:       core.StartingPage.Ptr(),
			endPage:         core.EndingPage.Ptr(),
			citedByCount:    core.CitedBy(),
			openAccess:      core.IsOpenAccess(),
			documentType:    scopus.FlexString(core.Subtype).Ptr(),
			subtypeDesc:     scopus.FlexString(core.SubtypeDesc).Ptr(),
		}

		// A scopus id appearing twice in one batch keeps the later row,
		// matching the last-write-wins semantics of the conflict update.
		if existing, seen := rowIndex[core.Identifier]; seen {
			paperRows[existing] = row
		} else {
			rowIndex[core.Identifier] = len(paperRows)
			paperRows = append(paperRows, row)
		}
		scopusIDsInOrder = append(scopusIDsInOrder, core.Identifier)

		reportProgress(progress, idx+1, total)
	}

	// Stage 2: bulk upsert papers.
	reportStage(stage, fmt.Sprintf("inserting papers (%d)", len(paperRows)), 1, linkStageCount)
	paperIDMap, err := l.bulkUpsertPapers(ctx, q, paperRows)
	if err != nil {
		return nil, err
	}

	paperIDs := make([]int64, len(records))
	for i, scopusID := range scopusIDsInOrder {
		id, ok := paperIDMap[scopusID]
		if !ok {
			return nil, fmt.Errorf("%w: %s", domain.ErrUnresolvedPaper, scopusID)
		}
		paperIDs[i] = id
	}

	// Stages 3 and 4: author links and their affiliation links.
	reportStage(stage, "linking authors", 2, linkStageCount)
	if err := l.linkAuthors(ctx, q, records, paperIDs, stage); err != nil {
		return nil, err
	}

	// Stage 5: keyword links.
	reportStage(stage, "linking keywords", 4, linkStageCount)
	if err := l.linkKeywords(ctx, q, records, paperIDs); err != nil {
		return nil, err
	}

	// Stage 6: subject area links.
	reportStage(stage, "linking subjects", 5, linkStageCount)
	if err := l.linkSubjects(ctx, q, records, paperIDs); err != nil {
		return nil, err
	}

	// Stage 7: cited references.
	reportStage(stage, "inserting references", 6, linkStageCount)
	if err := l.insertReferences(ctx, q, records, paperIDs); err != nil {
		return nil, err
	}

	// Stage 8: funding, row-wise.
	reportStage(stage, "processing funding", 7, linkStageCount)
	for i, rec := range records {
		if err := l.insertFunding(ctx, q, rec, paperIDs[i]); err != nil {
			return nil, err
		}
	}

	return paperIDs, nil
}

func (l *Loader) bulkUpsertPapers(ctx context.Context, q database.DBTX, rows []paperRow) (map[string]int64, error) {
	if len(rows) == 0 {
		return map[string]int64{}, nil
	}

	valueStrings := make([]string, 0, len(rows))
	args := make([]interface{}, 0, len(rows)*18)
	for i, row := range rows {
		base := i * 18
		placeholders := make([]string, 18)
		for j := range placeholders {
			placeholders[j] = fmt.Sprintf("$%d", base+j+1)
		}
		valueStrings = append(valueStrings, "("+strings.Join(placeholders, ", ")+")")
		args = append(args,
			row.scopusID, row.eid, row.doi, row.title, row.abstract,
			row.publicationDate, row.publicationYear, row.sourceID, row.sourceType,
			row.volume, row.issue, row.pageRange, row.startPage, row.endPage,
			row.citedByCount, row.openAccess, row.documentType, row.subtypeDesc,
		)
	}

	query := fmt.Sprintf(`
		INSERT INTO papers (scopus_id, eid, doi, title, abstract, publication_date, publication_year, source_id, source_type, volume, issue, page_range, start_page, end_page, cited_by_count, open_access, document_type, subtype_description)
		VALUES %s
		ON CONFLICT (scopus_id) DO UPDATE SET
			cited_by_count = EXCLUDED.cited_by_count,
			updated_at = CURRENT_TIMESTAMP
		RETURNING scopus_id, paper_id`,
		strings.Join(valueStrings, ", "))

	result, err := q.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to upsert papers: %w", err)
	}
	defer result.Close()

	paperIDMap := make(map[string]int64, len(rows))
	for result.Next() {
		var scopusID string
		var paperID int64
		if err := result.Scan(&scopusID, &paperID); err != nil {
			return nil, err
		}
		paperIDMap[scopusID] = paperID
	}
	if err := result.Err(); err != nil {
		return nil, err
	}

	return paperIDMap, nil
}

type paperAuthorKey struct {
	paperID  int64
	authorID int64
}

func (l *Loader) linkAuthors(ctx context.Context, q database.DBTX, records []*scopus.Record, paperIDs []int64, stage StageFunc) error {
	type paperAuthorRow struct {
		paperID  int64
		authorID int64
		sequence int
	}
	type pendingAffiliation struct {
		scopusAffiliationID string
		paperID             int64
		authorID            int64
	}

	var paRows []paperAuthorRow
	paIndex := make(map[paperAuthorKey]int)
	var pendingAffs []pendingAffiliation

	for i, rec := range records {
		paperID := paperIDs[i]
		for _, author := range rec.AuthorList() {
			if author.AUID == "" {
				continue
			}
			authorID, ok := l.cache.authors[author.AUID]
			if !ok {
				var err error
				authorID, err = l.fallbackUpsertAuthor(ctx, q, scopus.AuthorRow{
					AUID:        author.AUID,
					Surname:     author.Surname.Ptr(),
					GivenName:   scopus.FlexString(author.GivenName()).Ptr(),
					Initials:    author.Initials.Ptr(),
					IndexedName: author.IndexedName.Ptr(),
				})
				if err != nil {
					return err
				}
			}

			row := paperAuthorRow{paperID: paperID, authorID: authorID, sequence: author.Sequence()}
			key := paperAuthorKey{paperID: paperID, authorID: authorID}
			if existing, seen := paIndex[key]; seen {
				paRows[existing] = row
			} else {
				paIndex[key] = len(paRows)
				paRows = append(paRows, row)
			}

			for _, aff := range author.Affiliations {
				if aff.ID == "" {
					continue
				}
				pendingAffs = append(pendingAffs, pendingAffiliation{
					scopusAffiliationID: aff.ID,
					paperID:             paperID,
					authorID:            authorID,
				})
			}
		}
	}

	paperAuthorIDMap := make(map[paperAuthorKey]int64, len(paRows))
	if len(paRows) > 0 {
		reportStage(stage, fmt.Sprintf("linking authors (%d)", len(paRows)), 3, linkStageCount)

		valueStrings := make([]string, 0, len(paRows))
		args := make([]interface{}, 0, len(paRows)*3)
		for i, row := range paRows {
			base := i * 3
			valueStrings = append(valueStrings, fmt.Sprintf("($%d, $%d, $%d)", base+1, base+2, base+3))
			args = append(args, row.paperID, row.authorID, row.sequence)
		}

		query := fmt.Sprintf(`
			INSERT INTO paper_authors (paper_id, author_id, author_sequence)
			VALUES %s
			ON CONFLICT (paper_id, author_id) DO UPDATE SET author_sequence = EXCLUDED.author_sequence
			RETURNING paper_author_id, paper_id, author_id`,
			strings.Join(valueStrings, ", "))

		result, err := q.Query(ctx, query, args...)
		if err != nil {
			return fmt.Errorf("failed to link authors: %w", err)
		}
		defer result.Close()

		for result.Next() {
			var paID, pID, aID int64
			if err := result.Scan(&paID, &pID, &aID); err != nil {
				return err
			}
			paperAuthorIDMap[paperAuthorKey{paperID: pID, authorID: aID}] = paID
		}
		if err := result.Err(); err != nil {
			return err
		}

		l.recordLinkRows("paper_authors", len(paRows))
	}

	// Affiliation links resolve through the paper_author rows just written.
	// An affiliation id absent from the cache is skipped, not inserted.
	type paaRow struct {
		paperAuthorID int64
		affiliationID int64
	}
	var paaRows []paaRow
	for _, pending := range pendingAffs {
		affiliationID, ok := l.cache.affiliations[pending.scopusAffiliationID]
		if !ok {
			l.logger.Debug().
				Str("scopus_affiliation_id", pending.scopusAffiliationID).
				Msg("skipping unresolved affiliation link")
			l.recordLinkSkipped("paper_author_affiliations")
			continue
		}
		paperAuthorID, ok := paperAuthorIDMap[paperAuthorKey{paperID: pending.paperID, authorID: pending.authorID}]
		if !ok {
			l.recordLinkSkipped("paper_author_affiliations")
			continue
		}
		paaRows = append(paaRows, paaRow{paperAuthorID: paperAuthorID, affiliationID: affiliationID})
	}

	if len(paaRows) > 0 {
		reportStage(stage, fmt.Sprintf("linking affiliations (%d)", len(paaRows)), 3, linkStageCount)

		valueStrings := make([]string, 0, len(paaRows))
		args := make([]interface{}, 0, len(paaRows)*2)
		for i, row := range paaRows {
			valueStrings = append(valueStrings, fmt.Sprintf("($%d, $%d)", i*2+1, i*2+2))
			args = append(args, row.paperAuthorID, row.affiliationID)
		}

		query := fmt.Sprintf(`
			INSERT INTO paper_author_affiliations (paper_author_id, affiliation_id)
			VALUES %s
			ON CONFLICT (paper_author_id, affiliation_id) DO NOTHING`,
			strings.Join(valueStrings, ", "))

		if _, err := q.Exec(ctx, query, args...); err != nil {
			return fmt.Errorf("failed to link affiliations: %w", err)
		}
		l.recordLinkRows("paper_author_affiliations", len(paaRows))
	}

	return nil
}

func (l *Loader) linkKeywords(ctx context.Context, q database.DBTX, records []*scopus.Record, paperIDs []int64) error {
	type keywordLinkRow struct {
		paperID   int64
		keywordID int64
		kind      string
	}

	var linkRows []keywordLinkRow
	appendLinks := func(ctx context.Context, paperID int64, keywords []string, kind string) error {
		for _, kw := range keywords {
			keywordID, ok := l.cache.keywords[kw]
			if !ok {
				var err error
				keywordID, err = l.fallbackUpsertKeyword(ctx, q, kw, kind)
				if err != nil {
					return err
				}
			}
			linkRows = append(linkRows, keywordLinkRow{paperID: paperID, keywordID: keywordID, kind: kind})
		}
		return nil
	}

	for i, rec := range records {
		if err := appendLinks(ctx, paperIDs[i], rec.AuthorKeywordList(), KeywordTypeAuthor); err != nil {
			return err
		}
		if err := appendLinks(ctx, paperIDs[i], rec.IndexedKeywordList(), KeywordTypeIndexed); err != nil {
			return err
		}
	}

	if len(linkRows) == 0 {
		return nil
	}

	valueStrings := make([]string, 0, len(linkRows))
	args := make([]interface{}, 0, len(linkRows)*3)
	for i, row := range linkRows {
		base := i * 3
		valueStrings = append(valueStrings, fmt.Sprintf("($%d, $%d, $%d)", base+1, base+2, base+3))
		args = append(args, row.paperID, row.keywordID, row.kind)
	}

	query := fmt.Sprintf(`
		INSERT INTO paper_keywords (paper_id, keyword_id, keyword_type)
		VALUES %s
		ON CONFLICT (paper_id, keyword_id) DO NOTHING`,
		strings.Join(valueStrings, ", "))

	if _, err := q.Exec(ctx, query, args...); err != nil {
		return fmt.Errorf("failed to link keywords: %w", err)
	}

	l.recordLinkRows("paper_keywords", len(linkRows))
	return nil
}

func (l *Loader) linkSubjects(ctx context.Context, q database.DBTX, records []*scopus.Record, paperIDs []int64) error {
	type subjectLinkRow struct {
		paperID   int64
		subjectID int64
	}

	var linkRows []subjectLinkRow
	for i, rec := range records {
		for _, sa := range rec.SubjectAreaList() {
			if sa.Code == "" {
				continue
			}
			subjectID, ok := l.cache.subjects[sa.Code]
			if !ok {
				var err error
				subjectID, err = l.fallbackUpsertSubject(ctx, q, scopus.SubjectRow{
					Code:   sa.Code,
					Name:   sa.Name.Ptr(),
					Abbrev: scopus.FlexString(sa.Abbrev).Ptr(),
				})
				if err != nil {
					return err
				}
			}
			linkRows = append(linkRows, subjectLinkRow{paperID: paperIDs[i], subjectID: subjectID})
		}
	}

	if len(linkRows) == 0 {
		return nil
	}

	valueStrings := make([]string, 0, len(linkRows))
	args := make([]interface{}, 0, len(linkRows)*2)
	for i, row := range linkRows {
		valueStrings = append(valueStrings, fmt.Sprintf("($%d, $%d)", i*2+1, i*2+2))
		args = append(args, row.paperID, row.subjectID)
	}

	query := fmt.Sprintf(`
		INSERT INTO paper_subject_areas (paper_id, subject_area_id)
		VALUES %s
		ON CONFLICT (paper_id, subject_area_id) DO NOTHING`,
		strings.Join(valueStrings, ", "))

	if _, err := q.Exec(ctx, query, args...); err != nil {
		return fmt.Errorf("failed to link subjects: %w", err)
	}

	l.recordLinkRows("paper_subject_areas", len(linkRows))
	return nil
}

func (l *Loader) insertReferences(ctx context.Context, q database.DBTX, records []*scopus.Record, paperIDs []int64) error {
	type referenceRow struct {
		paperID     int64
		sequence    int
		fullText    *string
		citedYear   *string
		citedVolume *string
		citedPages  *string
	}

	var refRows []referenceRow
	for i, rec := range records {
		for _, ref := range rec.ReferenceList() {
			row := referenceRow{
				paperID:  paperIDs[i],
				sequence: ref.Sequence(),
				fullText: ref.FullText.Ptr(),
			}
			if info := ref.Info; info != nil {
				if info.PublicationYear != nil {
					row.citedYear = info.PublicationYear.First.Ptr()
				}
				if vip := info.VolIssPag; vip != nil {
					if vip.VolIss != nil {
						row.citedVolume = vip.VolIss.Volume.Ptr()
					}
					if vip.PageRange != nil {
						row.citedPages = vip.PageRange.First.Ptr()
					}
				}
			}
			refRows = append(refRows, row)
		}
	}

	if len(refRows) == 0 {
		return nil
	}

	valueStrings := make([]string, 0, len(refRows))
	args := make([]interface{}, 0, len(refRows)*6)
	for i, row := range refRows {
		base := i * 6
		valueStrings = append(valueStrings, fmt.Sprintf("($%d, $%d, $%d, $%d, $%d, $%d)",
			base+1, base+2, base+3, base+4, base+5, base+6))
		args = append(args, row.paperID, row.sequence, row.fullText,
			row.citedYear, row.citedVolume, row.citedPages)
	}

	query := fmt.Sprintf(`
		INSERT INTO reference_papers (paper_id, reference_sequence, reference_fulltext, cited_year, cited_volume, cited_pages)
		VALUES %s
		ON CONFLICT (paper_id, reference_sequence) DO NOTHING`,
		strings.Join(valueStrings, ", "))

	if _, err := q.Exec(ctx, query, args...); err != nil {
		return fmt.Errorf("failed to insert references: %w", err)
	}

	l.recordLinkRows("reference_papers", len(refRows))
	return nil
}
