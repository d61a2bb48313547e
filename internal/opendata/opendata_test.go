package opendata

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/saleslist-enrich/internal/model"
)

const sampleConfig = `
sources:
  tokyo_corporate_list:
    name: 東京都法人リスト
    url: https://example.tokyo.lg.jp/companies.csv
    format: csv
    encoding: shift_jis
    mappings:
      corporate_number: 法人番号
      name: 商号
      address: 所在地
      capital_stock: 資本金
      phone_number: 電話番号
  meti_zip:
    name: 経産省企業リスト
    url: https://example.meti.go.jp/companies.zip
    format: zip_csv
    enabled: false
    mappings:
      name: 企業名
      prefecture: 都道府県
      city: 市区町村
      website_url: URL
`

func TestParseSources(t *testing.T) {
	t.Parallel()

	sources, err := ParseSources([]byte(sampleConfig))
	require.NoError(t, err)
	require.Len(t, sources, 2)

	tokyo := sources["tokyo_corporate_list"]
	assert.Equal(t, "tokyo_corporate_list", tokyo.Key)
	assert.Equal(t, FormatCSV, tokyo.Format)
	assert.Equal(t, "shift_jis", tokyo.Encoding)
	assert.Equal(t, "法人番号", tokyo.Mappings.CorporateNumber)
	assert.True(t, tokyo.IsEnabled())

	assert.False(t, sources["meti_zip"].IsEnabled())
}

func TestParseSourcesRejectsUnknownFormat(t *testing.T) {
	t.Parallel()

	_, err := ParseSources([]byte(`
sources:
  bad:
    url: https://example.jp/x.csv
    format: xlsx
    mappings:
      name: 企業名
`))
	assert.Error(t, err)
}

func TestParseSourcesRequiresMatchColumn(t *testing.T) {
	t.Parallel()

	_, err := ParseSources([]byte(`
sources:
  bad:
    url: https://example.jp/x.csv
    format: csv
    mappings:
      phone_number: 電話番号
`))
	assert.Error(t, err)
}

func TestMapRowSplitsAddress(t *testing.T) {
	t.Parallel()

	src := Source{Key: "test", Mappings: Mappings{
		Name:        "商号",
		Address:     "所在地",
		PhoneNumber: "電話番号",
		WebsiteURL:  "URL",
	}}
	idx := IndexHeader([]string{"商号", "所在地", "電話番号", "URL"})

	row := MapRow(src, idx, []string{"株式会社テスト", "東京都千代田区丸の内1-1-1", "03-1234-5678", "test.example.jp"})

	assert.Equal(t, "株式会社テスト", row.Name)
	assert.Equal(t, "東京都", row.Prefecture)
	assert.Equal(t, "千代田区丸の内1-1-1", row.City)
	assert.Equal(t, "https://test.example.jp", row.Website)
}

func TestMapRowKeepsExplicitPrefecture(t *testing.T) {
	t.Parallel()

	src := Source{Key: "test", Mappings: Mappings{
		Name:       "企業名",
		Prefecture: "都道府県",
		Address:    "住所",
	}}
	idx := IndexHeader([]string{"企業名", "都道府県", "住所"})

	row := MapRow(src, idx, []string{"株式会社テスト", "大阪府", "大阪市北区1-1"})
	assert.Equal(t, "大阪府", row.Prefecture)
	assert.Equal(t, "大阪市北区1-1", row.City)
}

func TestEntries(t *testing.T) {
	t.Parallel()

	src := Source{Key: "tokyo_corporate_list", Name: "東京都法人リスト"}
	row := Row{
		CorporateNumber: "1234567890123",
		Name:            "株式会社テスト",
		Prefecture:      "東京都",
		Capital:         "6,500,000円",
	}

	entries := Entries(7, src, row)
	require.Len(t, entries, 3)

	byField := map[string]string{}
	for _, e := range entries {
		byField[e.Field] = e.Value
		assert.Equal(t, int64(7), e.CompanyID)
		assert.Equal(t, model.SourceRule, e.SourceKind)
		assert.Equal(t, "tokyo_corporate_list", e.Source)
		assert.Equal(t, "株式会社テスト", e.SourceCompanyName)
	}
	assert.Equal(t, "1234567890123", byField[model.FieldCorporateNumber])
	assert.Equal(t, "東京都", byField[model.FieldPrefecture])
	assert.Equal(t, "6,500,000円", byField[model.FieldCapital])
}
