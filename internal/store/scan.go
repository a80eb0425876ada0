package store

import (
	"database/sql"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"

	"github.com/hazeltr0n/freeworld-success-coach-portal-sub003/internal/model"
)

// Row converters shared by the SQLite and Postgres stores. Both scan through
// the scannable interface, so database/sql rows and pgx rows take the same
// path.

type scannable interface {
	Scan(dest ...any) error
}

// postingColumnList splits postingColumns for sites that need a slice.
func postingColumnList() []string {
	return strings.Split(postingColumns, ", ")
}

// postingArgs flattens a posting into the column order of postingColumns,
// minting an ID and seen timestamps where missing. It mutates the posting so
// callers observe the same bookkeeping the store persisted.
func postingArgs(p *model.JobPosting, now time.Time) ([]any, error) {
	if p.ID == "" {
		p.ID = uuid.New().String()
	}
	if p.DedupKeyR1 == "" {
		return nil, eris.Errorf("posting %s has no dedup key", p.ID)
	}
	if p.FirstSeenAt.IsZero() {
		p.FirstSeenAt = now
	}
	p.LastSeenAt = now

	flags, err := marshalStrings(p.QualityFlags)
	if err != nil {
		return nil, err
	}
	recs, err := marshalStrings(p.QualityRecommendations)
	if err != nil {
		return nil, err
	}

	return []any{
		p.ID, p.Market, string(p.Source),
		p.RawTitle, p.RawCompany, p.RawLocation, p.RawDescription, p.RawSalary,
		p.SourceURL, p.SourcePlatform, nullTime(p.PostedAt),
		p.Title, p.Company, p.CompanyOriginal, p.Location, p.City, p.State, p.Description,
		p.QualityScore, flags, recs,
		p.DedupKeyR1, p.DedupKeyR2,
		string(p.MatchLevel), p.Summary, string(p.RouteType), p.CareerPathway,
		p.FairChance, p.TrainingProvided, nullTime(p.ClassifiedAt),
		string(p.FinalStatus), p.SortPriority,
		p.FirstSeenAt, p.LastSeenAt,
	}, nil
}

func scanPosting(row scannable) (*model.JobPosting, error) {
	var p model.JobPosting
	var source, matchLevel, routeType, finalStatus string
	var postedAt, classifiedAt sql.NullTime
	var flags, recs sql.NullString

	err := row.Scan(
		&p.ID, &p.Market, &source,
		&p.RawTitle, &p.RawCompany, &p.RawLocation, &p.RawDescription, &p.RawSalary,
		&p.SourceURL, &p.SourcePlatform, &postedAt,
		&p.Title, &p.Company, &p.CompanyOriginal, &p.Location, &p.City, &p.State, &p.Description,
		&p.QualityScore, &flags, &recs,
		&p.DedupKeyR1, &p.DedupKeyR2,
		&matchLevel, &p.Summary, &routeType, &p.CareerPathway,
		&p.FairChance, &p.TrainingProvided, &classifiedAt,
		&finalStatus, &p.SortPriority,
		&p.FirstSeenAt, &p.LastSeenAt,
	)
	if err != nil {
		return nil, eris.Wrap(err, "scan posting")
	}

	p.Source = model.SourceKind(source)
	p.MatchLevel = model.MatchLevel(matchLevel)
	p.RouteType = model.RouteType(routeType)
	p.FinalStatus = model.FinalStatus(finalStatus)
	if postedAt.Valid {
		p.PostedAt = postedAt.Time
	}
	if classifiedAt.Valid {
		p.ClassifiedAt = classifiedAt.Time
	}
	if p.QualityFlags, err = unmarshalStrings(flags); err != nil {
		return nil, err
	}
	if p.QualityRecommendations, err = unmarshalStrings(recs); err != nil {
		return nil, err
	}
	return &p, nil
}

func scanRun(row scannable) (*model.Run, error) {
	var r model.Run
	var marketsJSON string
	var resultJSON sql.NullString

	err := row.Scan(&r.ID, &marketsJSON, &r.Terms, &r.Status, &resultJSON, &r.CreatedAt, &r.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, eris.New("run not found")
	}
	if err != nil {
		return nil, eris.Wrap(err, "scan run")
	}

	if err := json.Unmarshal([]byte(marketsJSON), &r.Markets); err != nil {
		return nil, eris.Wrap(err, "unmarshal run markets")
	}
	if resultJSON.Valid {
		r.Result = &model.RunResult{}
		if err := json.Unmarshal([]byte(resultJSON.String), r.Result); err != nil {
			return nil, eris.Wrap(err, "unmarshal run result")
		}
	}
	return &r, nil
}

// marshalStrings renders a string list as a JSON column value, NULL when
// empty.
func marshalStrings(list []string) (any, error) {
	if len(list) == 0 {
		return nil, nil
	}
	b, err := json.Marshal(list)
	if err != nil {
		return nil, eris.Wrap(err, "marshal string list")
	}
	return string(b), nil
}

func unmarshalStrings(s sql.NullString) ([]string, error) {
	if !s.Valid || s.String == "" {
		return nil, nil
	}
	var out []string
	if err := json.Unmarshal([]byte(s.String), &out); err != nil {
		return nil, eris.Wrap(err, "unmarshal string list")
	}
	return out, nil
}

func nullTime(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t.UTC()
}
