package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/rotisserie/eris"

	"github.com/sells-group/saleslist-enrich/internal/db"
	"github.com/sells-group/saleslist-enrich/internal/model"
)

const companyColumns = `id, corporate_number, name, industry, contact_person_name,
	contact_person_position, prefecture, city, capital, employee_count, revenue,
	established_year, website_url, phone, email, business_description, notes,
	ai_last_enriched_at, ai_last_enriched_source, next_retry_strategy,
	created_at, updated_at`

func scanCompany(row pgx.Row) (*model.Company, error) {
	var c model.Company
	err := row.Scan(
		&c.ID, &c.CorporateNumber, &c.Name, &c.Industry, &c.ContactPersonName,
		&c.ContactPersonPosition, &c.Prefecture, &c.City, &c.Capital, &c.EmployeeCount,
		&c.Revenue, &c.EstablishedYear, &c.WebsiteURL, &c.Phone, &c.Email,
		&c.BusinessDescription, &c.Notes, &c.AILastEnrichedAt, &c.AILastEnrichedSource,
		&c.NextRetryStrategy, &c.CreatedAt, &c.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &c, nil
}

func (s *PostgresStore) GetCompany(ctx context.Context, id int64) (*model.Company, error) {
	c, err := scanCompany(s.pool.QueryRow(ctx,
		`SELECT `+companyColumns+` FROM companies WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, eris.Wrapf(err, "postgres: get company %d", id)
	}
	return c, nil
}

// GetCompanyByCorporateNumber resolves the business key used by open-data
// matching.
func (s *PostgresStore) GetCompanyByCorporateNumber(ctx context.Context, corporateNumber string) (*model.Company, error) {
	c, err := scanCompany(s.pool.QueryRow(ctx,
		`SELECT `+companyColumns+` FROM companies WHERE corporate_number = $1 LIMIT 1`,
		corporateNumber))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, eris.Wrapf(err, "postgres: get company by corporate number %s", corporateNumber)
	}
	return c, nil
}

// FindCompanyByName matches on the whitespace-stripped lower-cased name,
// optionally narrowed by prefecture. Used when a source row carries no
// corporate number.
func (s *PostgresStore) FindCompanyByName(ctx context.Context, normalizedName, prefecture string) (*model.Company, error) {
	c, err := scanCompany(s.pool.QueryRow(ctx,
		`SELECT `+companyColumns+` FROM companies
		 WHERE lower(regexp_replace(name, '\s', '', 'g')) = $1
		   AND ($2 = '' OR prefecture = $2)
		 ORDER BY id LIMIT 1`,
		normalizedName, prefecture))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, eris.Wrap(err, "postgres: find company by name")
	}
	return c, nil
}

// ListCompaniesMissingCorporateNumber feeds the registry collection job.
// An explicit id list overrides the missing-number filter.
func (s *PostgresStore) ListCompaniesMissingCorporateNumber(ctx context.Context, ids []int64, limit int) ([]model.Company, error) {
	query := `SELECT ` + companyColumns + ` FROM companies WHERE true`
	args := []any{}
	argIdx := 1

	if len(ids) > 0 {
		query += fmt.Sprintf(` AND id = ANY($%d)`, argIdx)
		args = append(args, ids)
		argIdx++
	} else {
		query += ` AND corporate_number = ''`
	}
	query += ` ORDER BY id ASC`

	if limit > 0 {
		query += fmt.Sprintf(` LIMIT $%d`, argIdx)
		args = append(args, limit)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list companies missing corporate number")
	}
	defer rows.Close()

	var companies []model.Company
	for rows.Next() {
		c, err := scanCompany(rows)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: scan company")
		}
		companies = append(companies, *c)
	}
	return companies, eris.Wrap(rows.Err(), "postgres: list missing corporate number iterate")
}

// GetCompanyForUpdate locks the company row for the duration of the
// caller's transaction, serializing concurrent ingest on the same company.
func (s *PostgresStore) GetCompanyForUpdate(ctx context.Context, q db.Querier, id int64) (*model.Company, error) {
	c, err := scanCompany(q.QueryRow(ctx,
		`SELECT `+companyColumns+` FROM companies WHERE id = $1 FOR UPDATE`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, eris.Wrapf(err, "postgres: lock company %d", id)
	}
	return c, nil
}

// companyFieldColumns maps candidate field names onto company columns.
// Keeping an explicit map (rather than trusting the field string) prevents
// SQL injection through the dynamic column name.
var companyFieldColumns = map[string]string{
	model.FieldCorporateNumber:       "corporate_number",
	model.FieldName:                  "name",
	model.FieldIndustry:              "industry",
	model.FieldContactPersonName:     "contact_person_name",
	model.FieldContactPersonPosition: "contact_person_position",
	model.FieldPrefecture:            "prefecture",
	model.FieldCity:                  "city",
	model.FieldCapital:               "capital",
	model.FieldEmployeeCount:         "employee_count",
	model.FieldRevenue:               "revenue",
	model.FieldEstablishedYear:       "established_year",
	model.FieldWebsiteURL:            "website_url",
	model.FieldPhone:                 "phone",
	model.FieldEmail:                 "email",
	model.FieldBusinessDescription:   "business_description",
}

// UpdateCompanyField writes one canonical field. Numeric columns receive
// the parsed integer; an unparsable value for a numeric field is an error.
func (s *PostgresStore) UpdateCompanyField(ctx context.Context, q db.Querier, id int64, field, value string) error {
	col, ok := companyFieldColumns[field]
	if !ok {
		return eris.Errorf("postgres: unknown company field %q", field)
	}

	var arg any = value
	if model.NumericFields[field] {
		c := model.Company{}
		if !c.SetFieldValue(field, value) {
			return eris.Errorf("postgres: non-numeric value %q for field %s", value, field)
		}
		switch field {
		case model.FieldCapital:
			arg = *c.Capital
		case model.FieldEmployeeCount:
			arg = *c.EmployeeCount
		case model.FieldRevenue:
			arg = *c.Revenue
		case model.FieldEstablishedYear:
			arg = *c.EstablishedYear
		}
	}

	tag, err := q.Exec(ctx,
		fmt.Sprintf(`UPDATE companies SET %s = $1, updated_at = now() WHERE id = $2`, col),
		arg, id,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: update company %d field %s", id, field)
	}
	if tag.RowsAffected() == 0 {
		return eris.Errorf("company not found: %d", id)
	}
	return nil
}

func (s *PostgresStore) UpdateCompanyEnrichment(ctx context.Context, id int64, at time.Time, source, nextRetryStrategy string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE companies
		 SET ai_last_enriched_at = $1, ai_last_enriched_source = $2,
		     next_retry_strategy = $3, updated_at = now()
		 WHERE id = $4`,
		at, source, nextRetryStrategy, id,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: update enrichment %d", id)
	}
	if tag.RowsAffected() == 0 {
		return eris.Errorf("company not found: %d", id)
	}
	return nil
}

// ListEnrichmentTargets returns companies eligible for AI enrichment:
// never enriched, or last enriched before the cooldown horizon. An explicit
// id list overrides the cooldown filter but keeps the ordering.
func (s *PostgresStore) ListEnrichmentTargets(ctx context.Context, cooldown time.Duration, now time.Time, ids []int64, limit int) ([]model.Company, error) {
	query := `SELECT ` + companyColumns + ` FROM companies WHERE true`
	args := []any{}
	argIdx := 1

	if len(ids) > 0 {
		query += fmt.Sprintf(` AND id = ANY($%d)`, argIdx)
		args = append(args, ids)
		argIdx++
	} else {
		query += fmt.Sprintf(` AND (ai_last_enriched_at IS NULL OR ai_last_enriched_at < $%d)`, argIdx)
		args = append(args, now.Add(-cooldown))
		argIdx++
	}
	query += ` ORDER BY ai_last_enriched_at ASC NULLS FIRST, id ASC`

	if limit > 0 {
		query += fmt.Sprintf(` LIMIT $%d`, argIdx)
		args = append(args, limit)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list enrichment targets")
	}
	defer rows.Close()

	var companies []model.Company
	for rows.Next() {
		c, err := scanCompany(rows)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: scan company")
		}
		companies = append(companies, *c)
	}
	return companies, eris.Wrap(rows.Err(), "postgres: list enrichment targets iterate")
}

// AppendCompanyNote prepends a note line, keeping at most maxNotes lines.
func (s *PostgresStore) AppendCompanyNote(ctx context.Context, id int64, note string, maxNotes int) error {
	var notes string
	err := s.pool.QueryRow(ctx, `SELECT notes FROM companies WHERE id = $1`, id).Scan(&notes)
	if err != nil {
		return eris.Wrapf(err, "postgres: load notes %d", id)
	}

	lines := []string{note}
	for _, l := range strings.Split(notes, "\n") {
		if strings.TrimSpace(l) != "" {
			lines = append(lines, l)
		}
	}
	if maxNotes > 0 && len(lines) > maxNotes {
		lines = lines[:maxNotes]
	}

	_, err = s.pool.Exec(ctx,
		`UPDATE companies SET notes = $1, updated_at = now() WHERE id = $2`,
		strings.Join(lines, "\n"), id,
	)
	return eris.Wrapf(err, "postgres: append note %d", id)
}
