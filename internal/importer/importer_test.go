package importer

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tealeg/xlsx/v2"

	"github.com/hazeltr0n/freeworld-success-coach-portal-sub003/internal/model"
	"github.com/hazeltr0n/freeworld-success-coach-portal-sub003/internal/rules"
)

type fakeStore struct {
	upserted []model.JobPosting
	err      error
}

func (f *fakeStore) UpsertPostings(_ context.Context, postings []model.JobPosting) (int64, error) {
	if f.err != nil {
		return 0, f.err
	}
	f.upserted = postings
	return int64(len(postings)), nil
}

func newImporter(t *testing.T, st Store) *Importer {
	t.Helper()
	rs, err := rules.Load("")
	require.NoError(t, err)
	return New(st, rs, false)
}

func writeCSV(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "jobs.csv")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func writeXLSX(t *testing.T, sheets map[string][][]string) string {
	t.Helper()
	f := xlsx.NewFile()
	for name, rows := range sheets {
		sheet, err := f.AddSheet(name)
		require.NoError(t, err)
		for _, rowData := range rows {
			row := sheet.AddRow()
			for _, cellData := range rowData {
				cell := row.AddCell()
				cell.SetString(cellData)
			}
		}
	}
	path := filepath.Join(t.TempDir(), "jobs.xlsx")
	require.NoError(t, f.Save(path))
	return path
}

func TestImportCSV(t *testing.T) {
	csv := `title,company,location,description,salary,url
CDL-A Local Delivery Driver,Acme Trucking,"Dallas, TX","Home daily routes with health insurance and a 401k match from day one.","$55,000 - $65,000 per year",https://jobs.example.com/acme/1
Regional Dry Van Driver,Bluebonnet Freight,"Fort Worth, TX","Regional lanes with weekend home time and paid vacation accrual.","$62,000 per year",https://jobs.example.com/bb/2
,,,"orphan row with no identity",,
`
	st := &fakeStore{}
	res, err := newImporter(t, st).ImportFile(context.Background(), writeCSV(t, csv), Config{Market: "Dallas"})
	require.NoError(t, err)

	assert.Equal(t, 3, res.Rows)
	assert.Equal(t, 1, res.Skipped)
	assert.Equal(t, 0, res.Duplicates)
	assert.Equal(t, int64(2), res.Upserted)

	require.Len(t, st.upserted, 2)
	for _, p := range st.upserted {
		assert.Equal(t, model.SourceImport, p.Source)
		assert.Equal(t, "Dallas", p.Market)
		assert.Equal(t, "import", p.SourcePlatform)
		assert.NotEmpty(t, p.DedupKeyR1)
		assert.Greater(t, p.QualityScore, 0.0)
		assert.Empty(t, p.MatchLevel, "rows without a match column stay unclassified")
		assert.True(t, p.ClassifiedAt.IsZero())
	}
	assert.Equal(t, "acme trucking", st.upserted[0].Company)
	assert.Equal(t, "Dallas, TX", st.upserted[0].Location)
}

func TestImportCSV_HeaderAliases(t *testing.T) {
	csv := `Job Title,Employer,City,Pay,Match,Route Type,Fair Chance,Summary
CDL-A Local Driver,Acme Trucking,"Dallas, TX","$58,000 per year",good,local,yes,Solid local run for a new graduate.
`
	st := &fakeStore{}
	res, err := newImporter(t, st).ImportFile(context.Background(), writeCSV(t, csv), Config{Market: "Dallas"})
	require.NoError(t, err)
	assert.Equal(t, int64(1), res.Upserted)

	require.Len(t, st.upserted, 1)
	p := st.upserted[0]
	assert.Equal(t, model.MatchGood, p.MatchLevel)
	assert.Equal(t, model.RouteLocal, p.RouteType)
	assert.True(t, p.FairChance)
	assert.Equal(t, "Solid local run for a new graduate.", p.Summary)
	assert.False(t, p.ClassifiedAt.IsZero(), "classified rows seed servable memory")
}

func TestImportCSV_UnknownMatchStaysUnclassified(t *testing.T) {
	csv := `title,company,match
CDL-A Local Driver,Acme Trucking,unknown
`
	st := &fakeStore{}
	_, err := newImporter(t, st).ImportFile(context.Background(), writeCSV(t, csv), Config{Market: "Dallas"})
	require.NoError(t, err)

	require.Len(t, st.upserted, 1)
	assert.Empty(t, st.upserted[0].MatchLevel)
	assert.True(t, st.upserted[0].ClassifiedAt.IsZero())
}

func TestImportCSV_DuplicatesCollapse(t *testing.T) {
	csv := `title,company
CDL-A Local Delivery Driver,Acme Trucking LLC
CDL-A Local Delivery Driver,Acme Trucking Inc
`
	st := &fakeStore{}
	res, err := newImporter(t, st).ImportFile(context.Background(), writeCSV(t, csv), Config{Market: "Dallas"})
	require.NoError(t, err)

	assert.Equal(t, 2, res.Rows)
	assert.Equal(t, 1, res.Duplicates, "corporate suffixes collapse to one identity")
	assert.Equal(t, int64(1), res.Upserted)
}

func TestImportCSV_MissingRequiredColumns(t *testing.T) {
	csv := `location,salary
"Dallas, TX","$50,000 per year"
`
	st := &fakeStore{}
	_, err := newImporter(t, st).ImportFile(context.Background(), writeCSV(t, csv), Config{Market: "Dallas"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "missing title, company")
}

func TestImportCSV_EmptyFile(t *testing.T) {
	st := &fakeStore{}
	_, err := newImporter(t, st).ImportFile(context.Background(), writeCSV(t, ""), Config{Market: "Dallas"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no header row")
}

func TestImportXLSX(t *testing.T) {
	path := writeXLSX(t, map[string][][]string{
		"Sheet1": {
			{"title", "company", "location", "salary"},
			{"CDL-A Local Driver", "Acme Trucking", "Dallas, TX", "$56,000 per year"},
			{"Regional Dry Van Driver", "Bluebonnet Freight", "Fort Worth, TX", "$61,000 per year"},
		},
	})

	st := &fakeStore{}
	res, err := newImporter(t, st).ImportFile(context.Background(), path, Config{Market: "Dallas"})
	require.NoError(t, err)

	assert.Equal(t, 2, res.Rows)
	assert.Equal(t, int64(2), res.Upserted)
	require.Len(t, st.upserted, 2)
	assert.Equal(t, "acme trucking", st.upserted[0].Company)
}

func TestImportXLSX_SheetByName(t *testing.T) {
	path := writeXLSX(t, map[string][][]string{
		"Notes": {
			{"whatever"},
		},
		"Jobs": {
			{"title", "company"},
			{"CDL-A Local Driver", "Acme Trucking"},
		},
	})

	st := &fakeStore{}
	res, err := newImporter(t, st).ImportFile(context.Background(), path, Config{Market: "Dallas", Sheet: "Jobs"})
	require.NoError(t, err)
	assert.Equal(t, int64(1), res.Upserted)
}

func TestImportXLSX_SheetNotFound(t *testing.T) {
	path := writeXLSX(t, map[string][][]string{
		"Sheet1": {{"title", "company"}},
	})

	st := &fakeStore{}
	_, err := newImporter(t, st).ImportFile(context.Background(), path, Config{Market: "Dallas", Sheet: "Missing"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), `sheet "Missing" not found`)
}

func TestImport_UnknownMarket(t *testing.T) {
	st := &fakeStore{}
	_, err := newImporter(t, st).ImportFile(context.Background(), "jobs.csv", Config{Market: "Atlantis"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), `unknown market "Atlantis"`)
}

func TestImport_MissingMarket(t *testing.T) {
	st := &fakeStore{}
	_, err := newImporter(t, st).ImportFile(context.Background(), "jobs.csv", Config{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "market is required")
}

func TestImport_UnsupportedExtension(t *testing.T) {
	st := &fakeStore{}
	_, err := newImporter(t, st).ImportFile(context.Background(), "jobs.txt", Config{Market: "Dallas"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), `unsupported file type ".txt"`)
}

func TestImport_StoreError(t *testing.T) {
	csv := `title,company
CDL-A Local Driver,Acme Trucking
`
	st := &fakeStore{err: eris.New("sqlite: database is locked")}
	_, err := newImporter(t, st).ImportFile(context.Background(), writeCSV(t, csv), Config{Market: "Dallas"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "upsert postings")
}
