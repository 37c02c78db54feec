package embedding

import (
	"context"
	"errors"
	"testing"

	"github.com/pashagolub/pgxmock/v4"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStoreUpsertBatch(t *testing.T) {
	t.Run("empty batch is a no-op", func(t *testing.T) {
		mock, err := pgxmock.NewPool()
		require.NoError(t, err)
		defer mock.Close()

		store := NewStore(mock, zerolog.Nop())
		require.NoError(t, store.UpsertBatch(context.Background(), nil))
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("writes one statement", func(t *testing.T) {
		mock, err := pgxmock.NewPool()
		require.NoError(t, err)
		defer mock.Close()

		mock.ExpectExec(`INSERT INTO paper_embeddings`).
			WithArgs(
				int64(1), "bge-m3", SourceCombined, []float32{0.1, 0.2},
				int64(2), "bge-m3", SourceCombined, []float32{0.3, 0.4},
			).
			WillReturnResult(pgxmock.NewResult("INSERT", 2))

		store := NewStore(mock, zerolog.Nop())
		err = store.UpsertBatch(context.Background(), []Embedding{
			{PaperID: 1, Model: "bge-m3", Source: SourceCombined, Vector: []float32{0.1, 0.2}},
			{PaperID: 2, Model: "bge-m3", Source: SourceCombined, Vector: []float32{0.3, 0.4}},
		})
		require.NoError(t, err)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("duplicate keys keep the last vector", func(t *testing.T) {
		mock, err := pgxmock.NewPool()
		require.NoError(t, err)
		defer mock.Close()

		mock.ExpectExec(`INSERT INTO paper_embeddings`).
			WithArgs(int64(1), "bge-m3", SourceCombined, []float32{0.9}).
			WillReturnResult(pgxmock.NewResult("INSERT", 1))

		store := NewStore(mock, zerolog.Nop())
		err = store.UpsertBatch(context.Background(), []Embedding{
			{PaperID: 1, Model: "bge-m3", Source: SourceCombined, Vector: []float32{0.1}},
			{PaperID: 1, Model: "bge-m3", Source: SourceCombined, Vector: []float32{0.9}},
		})
		require.NoError(t, err)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("single upsert goes through the batch path", func(t *testing.T) {
		mock, err := pgxmock.NewPool()
		require.NoError(t, err)
		defer mock.Close()

		mock.ExpectExec(`INSERT INTO paper_embeddings`).
			WithArgs(int64(3), "bge-m3", SourceCombined, []float32{0.5}).
			WillReturnResult(pgxmock.NewResult("INSERT", 1))

		store := NewStore(mock, zerolog.Nop())
		err = store.Upsert(context.Background(), Embedding{
			PaperID: 3, Model: "bge-m3", Source: SourceCombined, Vector: []float32{0.5},
		})
		require.NoError(t, err)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("propagates database errors", func(t *testing.T) {
		mock, err := pgxmock.NewPool()
		require.NoError(t, err)
		defer mock.Close()

		mock.ExpectExec(`INSERT INTO paper_embeddings`).
			WillReturnError(errors.New("boom"))

		store := NewStore(mock, zerolog.Nop())
		err = store.UpsertBatch(context.Background(), []Embedding{
			{PaperID: 1, Model: "bge-m3", Source: SourceCombined, Vector: []float32{0.1}},
		})
		assert.Error(t, err)
	})
}

func TestStoreListMissing(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	title := "A Paper"
	mock.ExpectQuery(`SELECT p.paper_id, p.title, p.abstract`).
		WithArgs("bge-m3", SourceCombined, 10).
		WillReturnRows(pgxmock.NewRows([]string{"paper_id", "title", "abstract"}).
			AddRow(int64(5), &title, (*string)(nil)))

	store := NewStore(mock, zerolog.Nop())
	papers, err := store.ListMissing(context.Background(), "bge-m3", SourceCombined, 10)
	require.NoError(t, err)
	require.Len(t, papers, 1)
	assert.Equal(t, int64(5), papers[0].PaperID)
	require.NotNil(t, papers[0].Title)
	assert.Equal(t, "A Paper", *papers[0].Title)
	assert.Nil(t, papers[0].Abstract)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStoreCountByModel(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectQuery(`SELECT model, COUNT\(\*\) FROM paper_embeddings`).
		WillReturnRows(pgxmock.NewRows([]string{"model", "count"}).
			AddRow("bge-m3", int64(42)))

	store := NewStore(mock, zerolog.Nop())
	counts, err := store.CountByModel(context.Background())
	require.NoError(t, err)
	assert.Equal(t, map[string]int64{"bge-m3": 42}, counts)
	assert.NoError(t, mock.ExpectationsWereMet())
}
