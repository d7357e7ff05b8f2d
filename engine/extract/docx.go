package extract

import (
	"archive/zip"
	"context"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/grantdraft/grantdraft/engine/domain"
)

const documentPart = "word/document.xml"

// DOCX extracts text from Office Open XML word-processing documents. Every
// paragraph is emitted in source order, table cells included.
type DOCX struct{}

// Extract implements Extractor.
func (DOCX) Extract(ctx context.Context, path string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	name := filepath.Base(path)
	zr, err := zip.OpenReader(path)
	if err != nil {
		return "", &domain.ExtractionError{Document: name, Err: err}
	}
	defer zr.Close()

	text, err := extractText(&zr.Reader)
	if err != nil {
		return "", &domain.ExtractionError{Document: name, Err: err}
	}
	return text, nil
}

// ExtractDOCX extracts text from an in-memory DOCX archive.
func ExtractDOCX(r io.ReaderAt, size int64) (string, error) {
	zr, err := zip.NewReader(r, size)
	if err != nil {
		return "", &domain.ExtractionError{Err: err}
	}
	text, err := extractText(zr)
	if err != nil {
		return "", &domain.ExtractionError{Err: err}
	}
	return text, nil
}

func extractText(zr *zip.Reader) (string, error) {
	f, err := zr.Open(documentPart)
	if err != nil {
		return "", fmt.Errorf("open %s: %w", documentPart, err)
	}
	defer f.Close()

	paras, err := paragraphs(f)
	if err != nil {
		return "", err
	}
	text := strings.TrimSpace(strings.Join(paras, "\n"))
	if text == "" {
		return "", domain.ErrNoText
	}
	return text, nil
}

// paragraphs walks document.xml and returns the text of every paragraph in
// source order. Paragraphs nested in other paragraphs (text boxes) fold into
// their parent.
func paragraphs(r io.Reader) ([]string, error) {
	dec := xml.NewDecoder(r)
	var (
		paras  []string
		buf    strings.Builder
		pDepth int
		rDepth int
		inText bool
	)
	for {
		tok, terr := dec.Token()
		if errors.Is(terr, io.EOF) {
			return paras, nil
		}
		if terr != nil {
			return nil, fmt.Errorf("parse %s: %w", documentPart, terr)
		}

		switch t := tok.(type) {
		case xml.StartElement:
			switch t.Name.Local {
			case "p":
				if pDepth == 0 {
					buf.Reset()
				}
				pDepth++
			case "r":
				rDepth++
			case "t":
				inText = pDepth > 0
			case "tab":
				if pDepth > 0 && rDepth > 0 {
					buf.WriteByte('\t')
				}
			case "br", "cr":
				if pDepth > 0 && rDepth > 0 {
					buf.WriteByte('\n')
				}
			}
		case xml.EndElement:
			switch t.Name.Local {
			case "r":
				rDepth--
			case "t":
				inText = false
			case "p":
				pDepth--
				if pDepth == 0 {
					paras = append(paras, buf.String())
				}
			}
		case xml.CharData:
			if inText {
				buf.Write(t)
			}
		}
	}
}
