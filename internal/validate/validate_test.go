package validate

import (
	"archive/zip"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	contentTypes = `<?xml version="1.0" encoding="UTF-8"?>
<Types xmlns="http://schemas.openxmlformats.org/package/2006/content-types"><Default Extension="xml" ContentType="application/xml"/></Types>`

	workbook = `<?xml version="1.0" encoding="UTF-8"?>
<workbook xmlns="http://schemas.openxmlformats.org/spreadsheetml/2006/main" xmlns:r="http://schemas.openxmlformats.org/officeDocument/2006/relationships">
<sheets><sheet name="Telemetria" sheetId="1" r:id="rId7"/><sheet name="Resumen" sheetId="2" r:id="rId8"/></sheets></workbook>`

	rels = `<?xml version="1.0" encoding="UTF-8"?>
<Relationships xmlns="http://schemas.openxmlformats.org/package/2006/relationships">
<Relationship Id="rId8" Type="worksheet" Target="worksheets/sheet2.xml"/>
<Relationship Id="rId7" Type="worksheet" Target="worksheets/data.xml"/></Relationships>`

	withRows = `<?xml version="1.0" encoding="UTF-8"?>
<worksheet xmlns="http://schemas.openxmlformats.org/spreadsheetml/2006/main"><sheetData>
<row r="1"><c r="A1" t="inlineStr"><is><t>Equipo</t></is></c></row><row r="2"><c r="A2"><v>3</v></c></row>
</sheetData></worksheet>`

	noRows = `<?xml version="1.0" encoding="UTF-8"?>
<worksheet xmlns="http://schemas.openxmlformats.org/spreadsheetml/2006/main"><sheetData/></worksheet>`
)

func writeZip(t *testing.T, parts map[string]string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), "Copy_of_TECH_20261017.xlsx")
	f, err := os.Create(p)
	require.NoError(t, err)
	zw := zip.NewWriter(f)
	for name, body := range parts {
		w, err := zw.Create(name)
		require.NoError(t, err)
		_, err = w.Write([]byte(body))
		require.NoError(t, err)
	}
	require.NoError(t, zw.Close())
	require.NoError(t, f.Close())
	return p
}

func validParts() map[string]string {
	return map[string]string{
		contentTypesPart:           contentTypes,
		workbookPart:               workbook,
		workbookRelsPart:           rels,
		"xl/worksheets/data.xml":   withRows,
		"xl/worksheets/sheet2.xml": noRows,
	}
}

func TestFile(t *testing.T) {
	t.Run("valid workbook", func(t *testing.T) {
		report, err := File(writeZip(t, validParts()))
		require.NoError(t, err)
		assert.Equal(t, []string{"Telemetria", "Resumen"}, report.Sheets)
		assert.Equal(t, 2, report.FirstSheetRows)
		assert.Positive(t, report.Size)
	})

	t.Run("absolute relationship target", func(t *testing.T) {
		parts := validParts()
		parts[workbookRelsPart] = `<Relationships xmlns="http://schemas.openxmlformats.org/package/2006/relationships">
<Relationship Id="rId7" Target="/xl/worksheets/data.xml"/></Relationships>`
		_, err := File(writeZip(t, parts))
		assert.NoError(t, err)
	})

	t.Run("falls back to sheet1 without relationships", func(t *testing.T) {
		parts := validParts()
		delete(parts, workbookRelsPart)
		parts[fallbackSheet] = withRows
		report, err := File(writeZip(t, parts))
		require.NoError(t, err)
		assert.Equal(t, 2, report.FirstSheetRows)
	})

	failures := []struct {
		name   string
		mutate func(map[string]string)
	}{
		{"missing content types", func(p map[string]string) { delete(p, contentTypesPart) }},
		{"wrong content types root", func(p map[string]string) { p[contentTypesPart] = `<Other/>` }},
		{"missing workbook", func(p map[string]string) { delete(p, workbookPart) }},
		{"unparseable workbook", func(p map[string]string) { p[workbookPart] = `<workbook><<sheets/></workbook>` }},
		{"no sheets", func(p map[string]string) { p[workbookPart] = `<workbook><sheets/></workbook>` }},
		{"first sheet empty", func(p map[string]string) { p["xl/worksheets/data.xml"] = noRows }},
		{"first sheet missing", func(p map[string]string) { delete(p, "xl/worksheets/data.xml") }},
	}
	for _, tc := range failures {
		t.Run(tc.name, func(t *testing.T) {
			parts := validParts()
			tc.mutate(parts)
			_, err := File(writeZip(t, parts))
			assert.True(t, errors.Is(err, ErrInvalid), "got %v", err)
		})
	}

	t.Run("not a zip", func(t *testing.T) {
		p := filepath.Join(t.TempDir(), "report.xlsx")
		require.NoError(t, os.WriteFile(p, []byte("<html>session expired</html>"), 0o644))
		_, err := File(p)
		assert.ErrorIs(t, err, ErrInvalid)
	})

	t.Run("empty file", func(t *testing.T) {
		p := filepath.Join(t.TempDir(), "report.xlsx")
		require.NoError(t, os.WriteFile(p, nil, 0o644))
		_, err := File(p)
		assert.ErrorIs(t, err, ErrInvalid)
	})

	t.Run("directory", func(t *testing.T) {
		_, err := File(t.TempDir())
		assert.ErrorIs(t, err, ErrInvalid)
	})

	t.Run("missing file", func(t *testing.T) {
		_, err := File(filepath.Join(t.TempDir(), "absent.xlsx"))
		require.Error(t, err)
		assert.False(t, errors.Is(err, ErrInvalid))
		assert.True(t, errors.Is(err, os.ErrNotExist))
	})
}
