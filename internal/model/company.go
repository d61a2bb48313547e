// Package model defines the entities shared across the enrichment and
// review pipeline.
package model

import (
	"strconv"
	"time"
)

// Field names accepted by the candidate pipeline.
const (
	FieldCorporateNumber       = "corporate_number"
	FieldName                  = "name"
	FieldIndustry              = "industry"
	FieldContactPersonName     = "contact_person_name"
	FieldContactPersonPosition = "contact_person_position"
	FieldPrefecture            = "prefecture"
	FieldCity                  = "city"
	FieldCapital               = "capital"
	FieldEmployeeCount         = "employee_count"
	FieldRevenue               = "revenue"
	FieldEstablishedYear       = "established_year"
	FieldWebsiteURL            = "website_url"
	FieldPhone                 = "phone"
	FieldEmail                 = "email"
	FieldBusinessDescription   = "business_description"
)

// EnrichedSource tags which source last enriched a company.
const (
	EnrichedSourceAI   = "ai"
	EnrichedSourceRule = "rule"
)

// Company is the enrichment target. Collectors never mutate it; only the
// review decide path writes canonical fields.
type Company struct {
	ID                    int64      `json:"id"`
	CorporateNumber       string     `json:"corporate_number,omitempty"`
	Name                  string     `json:"name"`
	Industry              string     `json:"industry,omitempty"`
	ContactPersonName     string     `json:"contact_person_name,omitempty"`
	ContactPersonPosition string     `json:"contact_person_position,omitempty"`
	Prefecture            string     `json:"prefecture,omitempty"`
	City                  string     `json:"city,omitempty"`
	Capital               *int64     `json:"capital,omitempty"`
	EmployeeCount         *int64     `json:"employee_count,omitempty"`
	Revenue               *int64     `json:"revenue,omitempty"`
	EstablishedYear       *int64     `json:"established_year,omitempty"`
	WebsiteURL            string     `json:"website_url,omitempty"`
	Phone                 string     `json:"phone,omitempty"`
	Email                 string     `json:"email,omitempty"`
	BusinessDescription   string     `json:"business_description,omitempty"`
	Notes                 string     `json:"notes,omitempty"`
	AILastEnrichedAt      *time.Time `json:"ai_last_enriched_at,omitempty"`
	AILastEnrichedSource  string     `json:"ai_last_enriched_source,omitempty"`
	NextRetryStrategy     string     `json:"next_retry_strategy,omitempty"`
	CreatedAt             time.Time  `json:"created_at"`
	UpdatedAt             time.Time  `json:"updated_at"`
}

// NumericFields are candidate fields stored on the company as integers.
// Corporate numbers stay textual: they are identifiers, not quantities.
var NumericFields = map[string]bool{
	FieldCapital:         true,
	FieldEmployeeCount:   true,
	FieldRevenue:         true,
	FieldEstablishedYear: true,
}

// CandidateFields lists every field the pipeline may propose values for.
var CandidateFields = []string{
	FieldCorporateNumber,
	FieldIndustry,
	FieldContactPersonName,
	FieldContactPersonPosition,
	FieldPrefecture,
	FieldCity,
	FieldCapital,
	FieldEmployeeCount,
	FieldRevenue,
	FieldEstablishedYear,
	FieldWebsiteURL,
	FieldPhone,
	FieldEmail,
	FieldBusinessDescription,
}

// IsCandidateField reports whether the pipeline accepts candidates for field.
func IsCandidateField(field string) bool {
	for _, f := range CandidateFields {
		if f == field {
			return true
		}
	}
	return false
}

// FieldValue returns the company's current value for field in its canonical
// string form. The second return is false for unknown fields.
func (c *Company) FieldValue(field string) (string, bool) {
	switch field {
	case FieldCorporateNumber:
		return c.CorporateNumber, true
	case FieldName:
		return c.Name, true
	case FieldIndustry:
		return c.Industry, true
	case FieldContactPersonName:
		return c.ContactPersonName, true
	case FieldContactPersonPosition:
		return c.ContactPersonPosition, true
	case FieldPrefecture:
		return c.Prefecture, true
	case FieldCity:
		return c.City, true
	case FieldCapital:
		return int64String(c.Capital), true
	case FieldEmployeeCount:
		return int64String(c.EmployeeCount), true
	case FieldRevenue:
		return int64String(c.Revenue), true
	case FieldEstablishedYear:
		return int64String(c.EstablishedYear), true
	case FieldWebsiteURL:
		return c.WebsiteURL, true
	case FieldPhone:
		return c.Phone, true
	case FieldEmail:
		return c.Email, true
	case FieldBusinessDescription:
		return c.BusinessDescription, true
	}
	return "", false
}

// SetFieldValue writes a normalized candidate value into the company,
// parsing numeric fields. Returns false for unknown fields and unparsable
// numeric values.
func (c *Company) SetFieldValue(field, value string) bool {
	if NumericFields[field] {
		n, err := strconv.ParseInt(value, 10, 64)
		if err != nil {
			return false
		}
		switch field {
		case FieldCapital:
			c.Capital = &n
		case FieldEmployeeCount:
			c.EmployeeCount = &n
		case FieldRevenue:
			c.Revenue = &n
		case FieldEstablishedYear:
			c.EstablishedYear = &n
		}
		return true
	}

	switch field {
	case FieldCorporateNumber:
		c.CorporateNumber = value
	case FieldName:
		c.Name = value
	case FieldIndustry:
		c.Industry = value
	case FieldContactPersonName:
		c.ContactPersonName = value
	case FieldContactPersonPosition:
		c.ContactPersonPosition = value
	case FieldPrefecture:
		c.Prefecture = value
	case FieldCity:
		c.City = value
	case FieldWebsiteURL:
		c.WebsiteURL = value
	case FieldPhone:
		c.Phone = value
	case FieldEmail:
		c.Email = value
	case FieldBusinessDescription:
		c.BusinessDescription = value
	default:
		return false
	}
	return true
}

func int64String(v *int64) string {
	if v == nil {
		return ""
	}
	return strconv.FormatInt(*v, 10)
}
