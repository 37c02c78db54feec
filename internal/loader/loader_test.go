package loader

import (
	"context"
	"errors"
	"testing"

	"github.com/pashagolub/pgxmock/v4"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/helixir/scopus-ingest/internal/domain"
	"github.com/helixir/scopus-ingest/internal/scopus"
)

// testRecord builds a record with one author, one affiliation, one subject,
// overlapping author and indexed keywords, and one cited reference.
func testRecord() *scopus.Record {
	return &scopus.Record{
		CoreData: &scopus.CoreData{
			Identifier:      "SCOPUS_ID:1",
			EID:             "2-s2.0-1",
			Title:           "Test Paper",
			CoverDate:       "2023-01-15",
			PublicationName: "Test Journal",
			CitedByCount:    "5",
			OpenAccess:      "2",
		},
		Affiliations: []scopus.RawAffiliation{
			{ID: "60000001", Name: "Test University", Country: "Testland"},
		},
		Authors: &scopus.AuthorGroup{
			Author: []scopus.RawAuthor{
				{
					AUID:        "a1",
					Seq:         "1",
					Surname:     "Smith",
					IndexedName: "Smith J.",
					Affiliations: []scopus.AuthorAffilRef{
						{ID: "60000001"},
					},
				},
			},
		},
		SubjectAreas: &scopus.SubjectAreas{
			SubjectArea: []scopus.RawSubjectArea{
				{Code: "1700", Name: "Computer Science", Abbrev: "COMP"},
			},
		},
		AuthKeywords: &scopus.AuthKeywords{
			Keyword: []scopus.FlexString{"k1"},
		},
		IdxTerms: &scopus.IdxTerms{
			Term: []scopus.FlexString{"k1", "k2"},
		},
		Item: &scopus.Item{
			Bibrecord: &scopus.Bibrecord{
				Head: &scopus.BibHead{
					Source: &scopus.RawSource{SrcID: "111", Type: "j"},
				},
				Tail: &scopus.BibTail{
					Bibliography: &scopus.Bibliography{
						Reference: []scopus.RawReference{
							{ID: "1", FullText: "A cited work"},
						},
					},
				},
			},
		},
	}
}

func TestInsertBatch_EmptyBatch(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	l := NewWithTx(mock, zerolog.Nop())
	ids, err := l.InsertBatch(context.Background(), nil)
	require.NoError(t, err)
	assert.Empty(t, ids)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestInsertBatch_MalformedRecord(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	l := NewWithTx(mock, zerolog.Nop())

	t.Run("nil record", func(t *testing.T) {
		_, err := l.InsertBatch(context.Background(), []*scopus.Record{nil})
		require.Error(t, err)
		assert.True(t, errors.Is(err, domain.ErrMalformedRecord))
	})

	t.Run("missing coredata", func(t *testing.T) {
		records := []*scopus.Record{testRecord(), {}}
		_, err := l.InsertBatch(context.Background(), records)
		require.Error(t, err)

		var malformed *domain.MalformedRecordError
		require.True(t, errors.As(err, &malformed))
		assert.Equal(t, 1, malformed.Index)
	})

	t.Run("missing identifier", func(t *testing.T) {
		records := []*scopus.Record{{CoreData: &scopus.CoreData{Title: "no id"}}}
		_, err := l.InsertBatch(context.Background(), records)
		require.Error(t, err)
		assert.True(t, errors.Is(err, domain.ErrMalformedRecord))
	})

	// No SQL may run when validation fails.
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestInsertBatch_FullPipeline(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectQuery(`INSERT INTO sources`).
		WithArgs(pgxmock.AnyArg(), pgxmock.AnyArg(), "111", pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnRows(pgxmock.NewRows([]string{"source_id", "scopus_source_id"}).
			AddRow(int64(10), "111"))

	mock.ExpectQuery(`INSERT INTO affiliations`).
		WithArgs("60000001", pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnRows(pgxmock.NewRows([]string{"affiliation_id", "scopus_affiliation_id"}).
			AddRow(int64(20), "60000001"))

	mock.ExpectQuery(`INSERT INTO authors`).
		WithArgs("a1", pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnRows(pgxmock.NewRows([]string{"author_id", "auid"}).
			AddRow(int64(30), "a1"))

	mock.ExpectQuery(`INSERT INTO subject_areas`).
		WithArgs("1700", pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnRows(pgxmock.NewRows([]string{"subject_area_id", "subject_code"}).
			AddRow(int64(40), "1700"))

	// k1 appears in both keyword sets and must be stored once with the
	// author type; k2 stays indexed.
	mock.ExpectQuery(`INSERT INTO keywords`).
		WithArgs("k1", KeywordTypeAuthor, "k2", KeywordTypeIndexed).
		WillReturnRows(pgxmock.NewRows([]string{"keyword_id", "keyword"}).
			AddRow(int64(50), "k1").
			AddRow(int64(51), "k2"))

	mock.ExpectQuery(`INSERT INTO papers`).
		WithArgs(
			"SCOPUS_ID:1", pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(),
			pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(),
			pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(),
			5, true, pgxmock.AnyArg(), pgxmock.AnyArg(),
		).
		WillReturnRows(pgxmock.NewRows([]string{"scopus_id", "paper_id"}).
			AddRow("SCOPUS_ID:1", int64(100)))

	mock.ExpectQuery(`INSERT INTO paper_authors`).
		WithArgs(int64(100), int64(30), 1).
		WillReturnRows(pgxmock.NewRows([]string{"paper_author_id", "paper_id", "author_id"}).
			AddRow(int64(200), int64(100), int64(30)))

	mock.ExpectExec(`INSERT INTO paper_author_affiliations`).
		WithArgs(int64(200), int64(20)).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	mock.ExpectExec(`INSERT INTO paper_keywords`).
		WithArgs(
			int64(100), int64(50), KeywordTypeAuthor,
			int64(100), int64(50), KeywordTypeIndexed,
			int64(100), int64(51), KeywordTypeIndexed,
		).
		WillReturnResult(pgxmock.NewResult("INSERT", 3))

	mock.ExpectExec(`INSERT INTO paper_subject_areas`).
		WithArgs(int64(100), int64(40)).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	mock.ExpectExec(`INSERT INTO reference_papers`).
		WithArgs(int64(100), 1, pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	l := NewWithTx(mock, zerolog.Nop())

	var progressCalls int
	var stages []string
	ids, err := l.InsertBatch(context.Background(), []*scopus.Record{testRecord()},
		WithProgress(func(done, total int) { progressCalls++ }),
		WithStages(func(stage string, current, total int) { stages = append(stages, stage) }),
	)
	require.NoError(t, err)
	assert.Equal(t, []int64{100}, ids)
	assert.Equal(t, 1, progressCalls)
	assert.NotEmpty(t, stages)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestInsertBatch_DuplicateScopusIDsCollapse(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	first := &scopus.Record{
		CoreData: &scopus.CoreData{Identifier: "SCOPUS_ID:9", CitedByCount: "1"},
	}
	second := &scopus.Record{
		CoreData: &scopus.CoreData{Identifier: "SCOPUS_ID:9", CitedByCount: "2"},
	}

	// One VALUES tuple despite two input records; the later row's citation
	// count wins.
	mock.ExpectQuery(`INSERT INTO papers`).
		WithArgs(
			"SCOPUS_ID:9", pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(),
			pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(),
			pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(),
			2, false, pgxmock.AnyArg(), pgxmock.AnyArg(),
		).
		WillReturnRows(pgxmock.NewRows([]string{"scopus_id", "paper_id"}).
			AddRow("SCOPUS_ID:9", int64(7)))

	l := NewWithTx(mock, zerolog.Nop())
	ids, err := l.InsertBatch(context.Background(), []*scopus.Record{first, second})
	require.NoError(t, err)
	assert.Equal(t, []int64{7, 7}, ids)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestInsertBatch_UnresolvedPaper(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	rec := &scopus.Record{
		CoreData: &scopus.CoreData{Identifier: "SCOPUS_ID:404"},
	}

	// Paper insert returns no row for the scopus id.
	mock.ExpectQuery(`INSERT INTO papers`).
		WillReturnRows(pgxmock.NewRows([]string{"scopus_id", "paper_id"}))

	l := NewWithTx(mock, zerolog.Nop())
	_, err = l.InsertBatch(context.Background(), []*scopus.Record{rec})
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrUnresolvedPaper))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestInsertBatch_DimensionFailureAborts(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectQuery(`INSERT INTO sources`).
		WillReturnError(errors.New("connection reset"))

	l := NewWithTx(mock, zerolog.Nop())
	_, err = l.InsertBatch(context.Background(), []*scopus.Record{testRecord()})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to upsert sources")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestInsertBatch_DisabledPreload(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	rec := &scopus.Record{
		CoreData: &scopus.CoreData{Identifier: "SCOPUS_ID:2", PublicationName: "Journal X"},
		Item: &scopus.Item{Bibrecord: &scopus.Bibrecord{Head: &scopus.BibHead{
			Source: &scopus.RawSource{SrcID: "222"},
		}}},
		Affiliations: []scopus.RawAffiliation{
			{ID: "60000009", Name: "Elsewhere"},
		},
		Authors: &scopus.AuthorGroup{
			Author: []scopus.RawAuthor{
				{
					AUID:         "a2",
					Seq:          "1",
					Surname:      "Doe",
					Affiliations: []scopus.AuthorAffilRef{{ID: "60000009"}},
				},
			},
		},
	}

	// Authors are still bulk upserted; sources fall back to a single-row
	// upsert during paper gathering; affiliation links are skipped.
	mock.ExpectQuery(`INSERT INTO authors`).
		WithArgs("a2", pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnRows(pgxmock.NewRows([]string{"author_id", "auid"}).
			AddRow(int64(31), "a2"))

	mock.ExpectQuery(`INSERT INTO sources`).
		WithArgs(pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnRows(pgxmock.NewRows([]string{"source_id"}).AddRow(int64(11)))

	mock.ExpectQuery(`INSERT INTO papers`).
		WillReturnRows(pgxmock.NewRows([]string{"scopus_id", "paper_id"}).
			AddRow("SCOPUS_ID:2", int64(101)))

	mock.ExpectQuery(`INSERT INTO paper_authors`).
		WithArgs(int64(101), int64(31), 1).
		WillReturnRows(pgxmock.NewRows([]string{"paper_author_id", "paper_id", "author_id"}).
			AddRow(int64(201), int64(101), int64(31)))

	l := NewWithTx(mock, zerolog.Nop(), DisableDimensionPreload())
	ids, err := l.InsertBatch(context.Background(), []*scopus.Record{rec})
	require.NoError(t, err)
	assert.Equal(t, []int64{101}, ids)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestFallbackUpsertAuthor(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	surname := "Smith"
	mock.ExpectQuery(`INSERT INTO authors`).
		WithArgs("a9", &surname, pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnRows(pgxmock.NewRows([]string{"author_id"}).AddRow(int64(99)))

	l := NewWithTx(mock, zerolog.Nop())
	id, err := l.fallbackUpsertAuthor(context.Background(), mock, scopus.AuthorRow{
		AUID:    "a9",
		Surname: &surname,
	})
	require.NoError(t, err)
	assert.Equal(t, int64(99), id)
	assert.Equal(t, int64(99), l.cache.authors["a9"])
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestResolveSourceID(t *testing.T) {
	t.Run("cache hit avoids query", func(t *testing.T) {
		mock, err := pgxmock.NewPool()
		require.NoError(t, err)
		defer mock.Close()

		l := NewWithTx(mock, zerolog.Nop())
		l.cache.sources["111"] = 10

		id, err := l.resolveSourceID(context.Background(), mock, testRecord())
		require.NoError(t, err)
		require.NotNil(t, id)
		assert.Equal(t, int64(10), *id)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("nil when record has no venue", func(t *testing.T) {
		mock, err := pgxmock.NewPool()
		require.NoError(t, err)
		defer mock.Close()

		l := NewWithTx(mock, zerolog.Nop())
		rec := &scopus.Record{CoreData: &scopus.CoreData{Identifier: "SCOPUS_ID:3"}}

		id, err := l.resolveSourceID(context.Background(), mock, rec)
		require.NoError(t, err)
		assert.Nil(t, id)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("cache miss falls back to single upsert", func(t *testing.T) {
		mock, err := pgxmock.NewPool()
		require.NoError(t, err)
		defer mock.Close()

		mock.ExpectQuery(`INSERT INTO sources`).
			WithArgs(pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg()).
			WillReturnRows(pgxmock.NewRows([]string{"source_id"}).AddRow(int64(12)))

		l := NewWithTx(mock, zerolog.Nop())
		id, err := l.resolveSourceID(context.Background(), mock, testRecord())
		require.NoError(t, err)
		require.NotNil(t, id)
		assert.Equal(t, int64(12), *id)
		assert.Equal(t, int64(12), l.cache.sources["111"])
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}
