// Package extracttest builds DOCX fixtures for tests.
package extracttest

import (
	"archive/zip"
	"bytes"
	"encoding/xml"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

const contentTypes = `<?xml version="1.0" encoding="UTF-8"?>
<Types xmlns="http://schemas.openxmlformats.org/package/2006/content-types">
<Default Extension="xml" ContentType="application/xml"/>
</Types>`

// Document wraps body XML in a word/document.xml envelope.
func Document(body string) string {
	return `<?xml version="1.0" encoding="UTF-8" standalone="yes"?>
<w:document xmlns:w="http://schemas.openxmlformats.org/wordprocessingml/2006/main"><w:body>` +
		body + `</w:body></w:document>`
}

// Paragraph returns a w:p holding text in a single run.
func Paragraph(text string) string {
	var b strings.Builder
	_ = xml.EscapeText(&b, []byte(text))
	return `<w:p><w:r><w:t xml:space="preserve">` + b.String() + `</w:t></w:r></w:p>`
}

// Table returns a one-column w:tbl with one row per cell text.
func Table(cells ...string) string {
	var b strings.Builder
	b.WriteString("<w:tbl>")
	for _, c := range cells {
		b.WriteString("<w:tr><w:tc>" + Paragraph(c) + "</w:tc></w:tr>")
	}
	b.WriteString("</w:tbl>")
	return b.String()
}

// Build returns DOCX archive bytes with the given document.xml content.
// An empty documentXML omits the part.
func Build(documentXML string) []byte {
	buf := new(bytes.Buffer)
	w := zip.NewWriter(buf)
	ct, _ := w.Create("[Content_Types].xml")
	_, _ = ct.Write([]byte(contentTypes))
	if documentXML != "" {
		doc, _ := w.Create("word/document.xml")
		_, _ = doc.Write([]byte(documentXML))
	}
	_ = w.Close()
	return buf.Bytes()
}

// Write stores a DOCX with the given paragraphs under dir/name and returns
// its path.
func Write(t testing.TB, dir, name string, paragraphs ...string) string {
	t.Helper()
	var body strings.Builder
	for _, p := range paragraphs {
		body.WriteString(Paragraph(p))
	}
	return WriteRaw(t, dir, name, Document(body.String()))
}

// WriteRaw stores a DOCX with the given document.xml under dir/name.
func WriteRaw(t testing.TB, dir, name, documentXML string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, Build(documentXML), 0o644); err != nil {
		t.Fatalf("write docx fixture: %v", err)
	}
	return path
}
