package rowio

import (
	"archive/zip"
	"bytes"
	"encoding/xml"
	"fmt"
	"io"
	"path"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/KaramelBytes/veritable-cli/internal/schema"
)

// ReadXLSX reads rows from one sheet of an .xlsx workbook, with the same
// header, empty-cell and id handling as ReadCSV. sheet selects a sheet by
// name; empty means the first sheet.
func ReadXLSX(file, sheet, idCol string) ([]schema.Row, error) {
	rr, err := openSheet(file, sheet)
	if err != nil {
		return nil, err
	}
	return recordsToRows(rr.Read, idCol, false)
}

// openSheet loads the named sheet and the shared strings it refers to.
func openSheet(file, sheet string) (*sheetRowReader, error) {
	zr, err := zip.OpenReader(file)
	if err != nil {
		return nil, fmt.Errorf("open xlsx: %w", err)
	}
	defer zr.Close()

	target, err := sheetPath(&zr.Reader, sheet)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", filepath.Base(file), err)
	}
	var sst sharedStrings
	if b := readZipFile(&zr.Reader, "xl/sharedStrings.xml"); len(b) > 0 {
		if err := xml.Unmarshal(b, &sst); err != nil {
			return nil, fmt.Errorf("parse shared strings: %w", err)
		}
	}
	data := readZipFile(&zr.Reader, target)
	if data == nil {
		return nil, fmt.Errorf("sheet %s missing from workbook", target)
	}
	return &sheetRowReader{dec: xml.NewDecoder(bytes.NewReader(data)), shared: sst.values()}, nil
}

type workbook struct {
	Sheets []struct {
		Name string `xml:"name,attr"`
		// r:id lives in the relationships namespace; matching on local name is enough.
		RID string `xml:"id,attr"`
	} `xml:"sheets>sheet"`
}

type relationships struct {
	Rels []struct {
		ID     string `xml:"Id,attr"`
		Target string `xml:"Target,attr"`
	} `xml:"Relationship"`
}

type sharedStrings struct {
	Items []struct {
		T    string `xml:"t"`
		Runs []struct {
			T string `xml:"t"`
		} `xml:"r"`
	} `xml:"si"`
}

func (s sharedStrings) values() []string {
	out := make([]string, len(s.Items))
	for i, it := range s.Items {
		if it.T != "" || len(it.Runs) == 0 {
			out[i] = it.T
			continue
		}
		var b strings.Builder
		for _, r := range it.Runs {
			b.WriteString(r.T)
		}
		out[i] = b.String()
	}
	return out
}

// sheetPath resolves the zip entry holding the named sheet.
func sheetPath(zr *zip.Reader, name string) (string, error) {
	var wb workbook
	if err := xml.Unmarshal(readZipFile(zr, "xl/workbook.xml"), &wb); err != nil {
		return "", fmt.Errorf("parse workbook: %w", err)
	}
	var rels relationships
	_ = xml.Unmarshal(readZipFile(zr, "xl/_rels/workbook.xml.rels"), &rels)
	if len(wb.Sheets) == 0 {
		return "", fmt.Errorf("workbook has no sheets")
	}
	idx := 0
	if name != "" {
		idx = -1
		names := make([]string, len(wb.Sheets))
		for i, s := range wb.Sheets {
			names[i] = s.Name
			if strings.EqualFold(s.Name, name) {
				idx = i
			}
		}
		if idx < 0 {
			return "", fmt.Errorf("sheet %q not found; available sheets: %s", name, strings.Join(names, ", "))
		}
	}
	for _, r := range rels.Rels {
		if r.ID == wb.Sheets[idx].RID {
			return normalizeRelPath(r.Target), nil
		}
	}
	return fmt.Sprintf("xl/worksheets/sheet%d.xml", idx+1), nil
}

// normalizeRelPath converts relationship targets, which may be absolute
// ("/xl/worksheets/sheet1.xml") or relative to xl/, into zip entry names.
func normalizeRelPath(rel string) string {
	rel = strings.TrimPrefix(rel, "/")
	if strings.HasPrefix(rel, "xl/") {
		return rel
	}
	return path.Join("xl", rel)
}

func readZipFile(zr *zip.Reader, name string) []byte {
	f, err := zr.Open(name)
	if err != nil {
		return nil
	}
	defer f.Close()
	b, _ := io.ReadAll(f)
	return b
}

// sheetRowReader streams the rows of a worksheet as string records.
type sheetRowReader struct {
	dec    *xml.Decoder
	shared []string
}

// Read returns the next row record, or io.EOF after the last row.
func (r *sheetRowReader) Read() ([]string, error) {
	var rec []string
	inRow := false
	for {
		tok, err := r.dec.Token()
		if err != nil {
			return nil, err
		}
		switch se := tok.(type) {
		case xml.StartElement:
			switch {
			case se.Name.Local == "row":
				inRow, rec = true, nil
			case inRow && se.Name.Local == "c":
				var ref, typ string
				for _, a := range se.Attr {
					switch a.Name.Local {
					case "r":
						ref = a.Value
					case "t":
						typ = a.Value
					}
				}
				col := colIndexFromRef(ref)
				if col < 0 {
					col = len(rec)
				}
				for len(rec) <= col {
					rec = append(rec, "")
				}
				rec[col] = r.cellValue(typ)
			}
		case xml.EndElement:
			if se.Name.Local == "row" && inRow {
				return rec, nil
			}
		}
	}
}

// cellValue reads up to the end of the current <c> element.
func (r *sheetRowReader) cellValue(typ string) string {
	var val strings.Builder
	depth := 0
	inText := false
loop:
	for {
		tok, err := r.dec.Token()
		if err != nil {
			break
		}
		switch se := tok.(type) {
		case xml.StartElement:
			depth++
			inText = se.Name.Local == "v" || se.Name.Local == "t"
		case xml.CharData:
			if inText {
				val.Write(se)
			}
		case xml.EndElement:
			if depth == 0 {
				break loop
			}
			depth--
			inText = false
		}
	}
	s := val.String()
	switch typ {
	case "s":
		if i, err := strconv.Atoi(s); err == nil && i >= 0 && i < len(r.shared) {
			return r.shared[i]
		}
		return ""
	case "b":
		if s == "1" {
			return "true"
		}
		return "false"
	}
	return s
}

// colIndexFromRef maps a cell reference like "C12" to its 0-based column.
func colIndexFromRef(ref string) int {
	idx := 0
	for _, c := range strings.ToUpper(ref) {
		if c < 'A' || c > 'Z' {
			break
		}
		idx = idx*26 + int(c-'A'+1)
	}
	return idx - 1
}
