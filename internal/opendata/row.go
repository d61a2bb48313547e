package opendata

import (
	"strings"

	"github.com/sells-group/saleslist-enrich/internal/ingest"
	"github.com/sells-group/saleslist-enrich/internal/model"
	"github.com/sells-group/saleslist-enrich/internal/normalize"
)

// Row holds the mapped values of one source record.
type Row struct {
	CorporateNumber string
	Name            string
	Prefecture      string
	City            string
	Capital         string
	EmployeeSize    string
	Industry        string
	Phone           string
	Website         string
}

// ColumnIndex resolves header names to positions once per file.
type ColumnIndex map[string]int

func IndexHeader(header []string) ColumnIndex {
	idx := make(ColumnIndex, len(header))
	for i, name := range header {
		idx[strings.TrimSpace(name)] = i
	}
	return idx
}

func (idx ColumnIndex) value(record []string, column string) string {
	if column == "" {
		return ""
	}
	i, ok := idx[column]
	if !ok || i >= len(record) {
		return ""
	}
	return strings.TrimSpace(record[i])
}

// MapRow applies a source's column mappings to one CSV record. An address
// column without explicit prefecture/city mappings is split on the
// 47-prefecture prefix table. A website without a scheme gets https.
func MapRow(src Source, idx ColumnIndex, record []string) Row {
	m := src.Mappings
	row := Row{
		CorporateNumber: idx.value(record, m.CorporateNumber),
		Name:            idx.value(record, m.Name),
		Prefecture:      idx.value(record, m.Prefecture),
		City:            idx.value(record, m.City),
		Capital:         idx.value(record, m.CapitalStock),
		EmployeeSize:    idx.value(record, m.EmployeeSize),
		Industry:        idx.value(record, m.Industry),
		Phone:           idx.value(record, m.PhoneNumber),
		Website:         idx.value(record, m.WebsiteURL),
	}

	if address := idx.value(record, m.Address); address != "" {
		prefecture, rest := normalize.SplitAddress(address)
		if row.Prefecture == "" {
			row.Prefecture = prefecture
		}
		if row.City == "" {
			row.City = rest
		}
	}

	if row.Website != "" && !strings.Contains(row.Website, "://") {
		row.Website = "https://" + row.Website
	}
	return row
}

// Entries turns a mapped row into gate entries for an already-matched
// company. Empty values produce no entry.
func Entries(companyID int64, src Source, row Row) []ingest.Entry {
	values := []struct {
		field string
		value string
	}{
		{model.FieldCorporateNumber, row.CorporateNumber},
		{model.FieldPrefecture, row.Prefecture},
		{model.FieldCity, row.City},
		{model.FieldCapital, row.Capital},
		{model.FieldEmployeeCount, row.EmployeeSize},
		{model.FieldIndustry, row.Industry},
		{model.FieldPhone, row.Phone},
		{model.FieldWebsiteURL, row.Website},
	}

	var entries []ingest.Entry
	for _, v := range values {
		if v.value == "" {
			continue
		}
		entries = append(entries, ingest.Entry{
			CompanyID:             companyID,
			Field:                 v.field,
			Value:                 v.value,
			SourceKind:            model.SourceRule,
			Source:                src.Key,
			SourceDetail:          src.Name,
			SourceCompanyName:     row.Name,
			SourceCorporateNumber: row.CorporateNumber,
		})
	}
	return entries
}
