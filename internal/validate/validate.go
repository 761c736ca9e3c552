// internal/validate/validate.go
package validate

import (
	"archive/zip"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"strings"

	"github.com/beevik/etree"
)

const (
	contentTypesPart = "[Content_Types].xml"
	workbookPart     = "xl/workbook.xml"
	workbookRelsPart = "xl/_rels/workbook.xml.rels"
	fallbackSheet    = "xl/worksheets/sheet1.xml"
)

// ErrInvalid marks a file that exists but is not a usable workbook.
var ErrInvalid = errors.New("invalid workbook")

// Report summarizes a workbook that passed validation.
type Report struct {
	Path   string
	Size   int64
	Sheets []string
	// FirstSheetRows counts the rows present in the first worksheet.
	FirstSheetRows int
}

func invalid(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrInvalid, fmt.Sprintf(format, args...))
}

// File checks that path holds a non-empty xlsx package whose first worksheet
// contains data. Structural problems wrap ErrInvalid.
func File(p string) (*Report, error) {
	info, err := os.Stat(p)
	if err != nil {
		return nil, fmt.Errorf("could not stat workbook: %w", err)
	}
	if !info.Mode().IsRegular() {
		return nil, invalid("%s is not a regular file", p)
	}
	if info.Size() == 0 {
		return nil, invalid("%s is empty", p)
	}

	zr, err := zip.OpenReader(p)
	if err != nil {
		return nil, invalid("not a zip package: %v", err)
	}
	defer zr.Close()

	parts := make(map[string]*zip.File, len(zr.File))
	for _, f := range zr.File {
		parts[f.Name] = f
	}

	ct, err := readPart(parts, contentTypesPart)
	if err != nil {
		return nil, err
	}
	if root := ct.Root(); root == nil || root.Tag != "Types" {
		return nil, invalid("%s has no Types root", contentTypesPart)
	}

	wb, err := readPart(parts, workbookPart)
	if err != nil {
		return nil, err
	}
	sheets := wb.FindElements("//sheets/sheet")
	if len(sheets) == 0 {
		return nil, invalid("workbook declares no sheets")
	}

	report := &Report{Path: p, Size: info.Size()}
	for _, s := range sheets {
		report.Sheets = append(report.Sheets, s.SelectAttrValue("name", ""))
	}

	sheetPath := firstSheetPart(parts, sheets[0])
	ws, err := readPart(parts, sheetPath)
	if err != nil {
		return nil, err
	}
	report.FirstSheetRows = len(ws.FindElements("//sheetData/row"))
	if report.FirstSheetRows == 0 {
		return nil, invalid("first sheet %q has no rows", report.Sheets[0])
	}
	return report, nil
}

// readPart parses one XML part of the package.
func readPart(parts map[string]*zip.File, name string) (*etree.Document, error) {
	f, ok := parts[name]
	if !ok {
		return nil, invalid("missing part %s", name)
	}
	rc, err := f.Open()
	if err != nil {
		return nil, invalid("could not open %s: %v", name, err)
	}
	defer rc.Close()

	doc := etree.NewDocument()
	if _, err := doc.ReadFrom(io.LimitReader(rc, 64<<20)); err != nil {
		return nil, invalid("could not parse %s: %v", name, err)
	}
	return doc, nil
}

// firstSheetPart resolves the worksheet part of the first sheet through the
// workbook relationships, falling back to the conventional name.
func firstSheetPart(parts map[string]*zip.File, sheet *etree.Element) string {
	id := relID(sheet)
	if id == "" {
		return fallbackSheet
	}
	rels, err := readPart(parts, workbookRelsPart)
	if err != nil {
		return fallbackSheet
	}
	for _, rel := range rels.FindElements("//Relationship") {
		if rel.SelectAttrValue("Id", "") != id {
			continue
		}
		target := rel.SelectAttrValue("Target", "")
		if target == "" {
			break
		}
		if strings.HasPrefix(target, "/") {
			return strings.TrimPrefix(target, "/")
		}
		return path.Join("xl", target)
	}
	return fallbackSheet
}

// relID reads the r:id attribute whatever prefix the package binds it to.
func relID(sheet *etree.Element) string {
	for _, a := range sheet.Attr {
		if a.Key == "id" && a.Space != "" {
			return a.Value
		}
	}
	return ""
}
