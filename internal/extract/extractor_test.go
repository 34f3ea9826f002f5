package extract

import (
	"archive/zip"
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/xuri/excelize/v2"

	"github.com/hyperjump/kotae/internal/ragerrors"
)

func TestExtractBytes_plain(t *testing.T) {
	e := NewExtractor()
	got, err := e.ExtractBytes([]byte("Hello world\nLine 2"), ".txt")
	if err != nil {
		t.Fatalf("ExtractBytes: %v", err)
	}
	if got != "Hello world\nLine 2" {
		t.Errorf("got %q", got)
	}
}

func TestExtractBytes_plainUTF8(t *testing.T) {
	e := NewExtractor()
	got, err := e.ExtractBytes([]byte("\xef\xbb\xbfcaf\xc3\xa9"), "md")
	if err != nil {
		t.Fatalf("ExtractBytes: %v", err)
	}
	if got != "café" {
		t.Errorf("got %q", got)
	}
}

func TestExtractBytes_plainInvalidUTF8(t *testing.T) {
	e := NewExtractor()
	got, err := e.ExtractBytes([]byte("hello\x80world"), ".RST")
	if err != nil {
		t.Fatalf("ExtractBytes: %v", err)
	}
	if got != "hello\ufffdworld" {
		t.Errorf("got %q", got)
	}
}

func TestExtractBytes_excel(t *testing.T) {
	f := excelize.NewFile()
	defer f.Close()
	f.SetCellValue("Sheet1", "A1", "Title")
	f.SetCellValue("Sheet1", "A2", "Value 1")
	f.SetCellValue("Sheet1", "B2", "Value 2")
	var buf bytes.Buffer
	if _, err := f.WriteTo(&buf); err != nil {
		t.Fatalf("WriteTo: %v", err)
	}

	got, err := NewExtractor().ExtractBytes(buf.Bytes(), ".xlsx")
	if err != nil {
		t.Fatalf("ExtractBytes: %v", err)
	}
	if got != "Sheet: Sheet1\nTitle\nValue 1\tValue 2" {
		t.Errorf("got %q", got)
	}
}

func TestExtractBytes_html(t *testing.T) {
	page := `<!doctype html><html><head><title>ignored</title><style>p{color:red}</style></head>
<body><h1>Release  notes</h1><p>Version 2 adds <b>document</b> scoping.</p>
<script>alert("x")</script><ul><li>First</li><li>Second &amp; last</li></ul></body></html>`

	got, err := NewExtractor().ExtractBytes([]byte(page), ".html")
	if err != nil {
		t.Fatalf("ExtractBytes: %v", err)
	}
	want := "Release notes\nVersion 2 adds document scoping.\nFirst\nSecond & last"
	if got != want {
		t.Errorf("got %q, want %q", got, want)
	}
}

func TestExtractBytes_unsupportedExtension(t *testing.T) {
	_, err := NewExtractor().ExtractBytes([]byte("raw content"), ".xyz")
	if !errors.Is(err, ragerrors.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
	if !strings.Contains(err.Error(), ".pdf") {
		t.Errorf("error should list supported types: %v", err)
	}
}

func TestExtractBytes_corruptIsValidationError(t *testing.T) {
	_, err := NewExtractor().ExtractBytes([]byte("not a zip"), ".docx")
	if !errors.Is(err, ragerrors.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestSupported(t *testing.T) {
	for _, ext := range []string{".pdf", "PDF", ".htm", "json", ".csv"} {
		if !Supported(ext) {
			t.Errorf("Supported(%q) = false", ext)
		}
	}
	for _, ext := range []string{".pptx", ".exe", ""} {
		if Supported(ext) {
			t.Errorf("Supported(%q) = true", ext)
		}
	}
	exts := SupportedExtensions()
	if len(exts) != 10 || exts[0] != ".csv" {
		t.Errorf("SupportedExtensions = %v", exts)
	}
}

func TestExtract_plainFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.txt")
	if err := os.WriteFile(path, []byte("File content"), 0600); err != nil {
		t.Fatal(err)
	}
	got, err := NewExtractor().Extract(path)
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if got != "File content" {
		t.Errorf("got %q", got)
	}
}

func TestExtract_excelFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "data.xlsx")
	f := excelize.NewFile()
	f.SetCellValue("Sheet1", "A1", "Searchable text")
	if err := f.SaveAs(path); err != nil {
		t.Fatalf("SaveAs: %v", err)
	}
	f.Close()

	got, err := NewExtractor().Extract(path)
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if got != "Sheet: Sheet1\nSearchable text" {
		t.Errorf("got %q", got)
	}
}

func TestExtractBytes_excelSkipsBlankRowsAndSheets(t *testing.T) {
	f := excelize.NewFile()
	defer f.Close()
	if _, err := f.NewSheet("Empty"); err != nil {
		t.Fatal(err)
	}
	if _, err := f.NewSheet("Budget"); err != nil {
		t.Fatal(err)
	}
	f.SetCellValue("Sheet1", "A1", "Owner")
	f.SetCellValue("Sheet1", "B1", "Ana")
	f.SetCellValue("Sheet1", "A3", "Status")
	f.SetCellValue("Sheet1", "D3", "")
	f.SetCellValue("Budget", "A1", "Q1")
	f.SetCellValue("Budget", "B1", 1200)
	var buf bytes.Buffer
	if _, err := f.WriteTo(&buf); err != nil {
		t.Fatal(err)
	}

	got, err := NewExtractor().ExtractBytes(buf.Bytes(), ".xlsx")
	if err != nil {
		t.Fatal(err)
	}
	want := "Sheet: Sheet1\nOwner\tAna\nStatus\n\nSheet: Budget\nQ1\t1200"
	if got != want {
		t.Errorf("got %q, want %q", got, want)
	}
}

func TestExtractBytes_corruptPDF(t *testing.T) {
	_, err := NewExtractor().ExtractBytes([]byte("%PDF-1.4\nnot really a pdf"), ".pdf")
	if err == nil {
		t.Fatal("expected error for corrupt PDF")
	}
	if !errors.Is(err, ragerrors.ErrValidation) {
		t.Errorf("corrupt PDF error %v is not a validation error", err)
	}
}

func TestExtract_nonexistent(t *testing.T) {
	if _, err := NewExtractor().Extract("/nonexistent/path/file.txt"); err == nil {
		t.Error("expected error for nonexistent file")
	}
}

const wordNS = `xmlns:w="http://schemas.openxmlformats.org/wordprocessingml/2006/main"`

func docxBody(paragraphs ...string) string {
	var b strings.Builder
	b.WriteString(`<w:document ` + wordNS + `><w:body>`)
	for _, p := range paragraphs {
		b.WriteString(`<w:p w:rsidR="00A1"><w:r><w:t xml:space="preserve">` + p + `</w:t></w:r></w:p>`)
	}
	b.WriteString(`</w:body></w:document>`)
	return b.String()
}

func zipOf(t *testing.T, files map[string]string) []byte {
	t.Helper()
	var buf bytes.Buffer
	w := zip.NewWriter(&buf)
	for name, body := range files {
		fw, err := w.Create(name)
		if err != nil {
			t.Fatal(err)
		}
		if _, err := fw.Write([]byte(body)); err != nil {
			t.Fatal(err)
		}
	}
	if err := w.Close(); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

func TestExtractBytes_docx(t *testing.T) {
	content := zipOf(t, map[string]string{"word/document.xml": docxBody("First paragraph", "Second paragraph")})
	got, err := NewExtractor().ExtractBytes(content, ".docx")
	if err != nil {
		t.Fatalf("ExtractBytes: %v", err)
	}
	if got != "First paragraph\nSecond paragraph" {
		t.Errorf("got %q", got)
	}
}

func TestExtractBytes_docxContentTypes(t *testing.T) {
	for _, override := range []string{
		`<Override PartName="/word/document2.xml" ContentType="application/vnd.openxmlformats-officedocument.wordprocessingml.document.main+xml"/>`,
		`<Override ContentType="application/vnd.openxmlformats-officedocument.wordprocessingml.document.main+xml" PartName="/word/document2.xml"/>`,
	} {
		content := zipOf(t, map[string]string{
			"[Content_Types].xml": `<?xml version="1.0" encoding="UTF-8"?><Types xmlns="http://schemas.openxmlformats.org/package/2006/content-types">` + override + `</Types>`,
			"word/document2.xml":  docxBody("Content from document2"),
		})
		got, err := NewExtractor().ExtractBytes(content, ".docx")
		if err != nil {
			t.Fatalf("ExtractBytes: %v", err)
		}
		if got != "Content from document2" {
			t.Errorf("got %q", got)
		}
	}
}

func TestExtractBytes_docxMissingBody(t *testing.T) {
	content := zipOf(t, map[string]string{"other.xml": "<x/>"})
	if _, err := NewExtractor().ExtractBytes(content, ".docx"); err == nil {
		t.Fatal("expected error when document body is missing")
	}
}
