// Package extract turns office documents and PDFs into plain text, and runs
// OCR over images when asked to.
package extract

import (
	"archive/zip"
	"bytes"
	"context"
	"errors"
	"fmt"
	"html"
	"io"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/ledongthuc/pdf"
	"github.com/nguyenthenguyen/docx"
	"github.com/xuri/excelize/v2"
)

var (
	// ErrUnsupported is returned for formats with no extractor.
	ErrUnsupported = errors.New("unsupported document format")

	// ErrTooLarge is returned when the input exceeds the size limit.
	ErrTooLarge = errors.New("document too large")

	// ErrOCRUnavailable is returned by Image in binaries built without cgo.
	ErrOCRUnavailable = errors.New("ocr not available (built without cgo)")
)

// MIME types handled here.
const (
	MimePDF  = "application/pdf"
	MimeDOCX = "application/vnd.openxmlformats-officedocument.wordprocessingml.document"
	MimeXLSX = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
	MimePPTX = "application/vnd.openxmlformats-officedocument.presentationml.presentation"
)

// Kind is a supported document format.
type Kind string

const (
	KindPDF  Kind = "pdf"
	KindDOCX Kind = "docx"
	KindXLSX Kind = "xlsx"
	KindPPTX Kind = "pptx"
	KindText Kind = "text"

	// KindImage is never returned by Detect; images only go through Image.
	KindImage Kind = "image"
)

var extensions = map[string]Kind{
	".pdf":      KindPDF,
	".docx":     KindDOCX,
	".xlsx":     KindXLSX,
	".pptx":     KindPPTX,
	".txt":      KindText,
	".md":       KindText,
	".markdown": KindText,
	".csv":      KindText,
}

// Detect picks the format from the MIME type, falling back to the file
// extension of name.
func Detect(mime, name string) (Kind, bool) {
	switch {
	case mime == MimePDF:
		return KindPDF, true
	case mime == MimeDOCX:
		return KindDOCX, true
	case mime == MimeXLSX:
		return KindXLSX, true
	case mime == MimePPTX:
		return KindPPTX, true
	case strings.HasPrefix(mime, "text/"):
		return KindText, true
	}
	k, ok := extensions[strings.ToLower(filepath.Ext(name))]
	return k, ok
}

var imageExtensions = map[string]bool{
	".png": true, ".jpg": true, ".jpeg": true, ".tif": true,
	".tiff": true, ".bmp": true, ".gif": true, ".webp": true,
}

// IsImage reports whether mime or the extension of name denotes an image
// Image can read.
func IsImage(mime, name string) bool {
	switch mime {
	case "image/png", "image/jpeg", "image/tiff", "image/bmp", "image/gif", "image/webp":
		return true
	}
	return imageExtensions[strings.ToLower(filepath.Ext(name))]
}

// Supported reports whether name or mime can be extracted.
func Supported(mime, name string) bool {
	_, ok := Detect(mime, name)
	return ok
}

// Text extracts the text of a document. The whole input is read into memory;
// maxSize > 0 bounds how much.
func Text(ctx context.Context, mime, name string, r io.Reader, maxSize int64) (string, error) {
	kind, ok := Detect(mime, name)
	if !ok {
		return "", fmt.Errorf("%w: %s (%s)", ErrUnsupported, name, mime)
	}
	data, err := readLimited(ctx, name, r, maxSize)
	if err != nil {
		return "", err
	}

	var text string
	switch kind {
	case KindPDF:
		text, err = pdfText(data)
	case KindDOCX:
		text, err = docxText(data)
	case KindXLSX:
		text, err = xlsxText(data)
	case KindPPTX:
		text, err = pptxText(data)
	default:
		text = string(bytes.ToValidUTF8(data, []byte("�")))
	}
	if err != nil {
		return "", fmt.Errorf("extracting %s %s: %w", kind, name, err)
	}
	return strings.TrimSpace(text), nil
}

// Image recognizes the text in an image with Tesseract. langs are
// Tesseract language codes; none means English.
func Image(ctx context.Context, name string, r io.Reader, maxSize int64, langs ...string) (string, error) {
	data, err := readLimited(ctx, name, r, maxSize)
	if err != nil {
		return "", err
	}
	if len(data) == 0 {
		return "", nil
	}
	text, err := ocrText(data, langs)
	if err != nil {
		return "", fmt.Errorf("extracting %s %s: %w", KindImage, name, err)
	}
	return strings.TrimSpace(text), nil
}

// readLimited reads all of r; maxSize > 0 bounds how much.
func readLimited(ctx context.Context, name string, r io.Reader, maxSize int64) ([]byte, error) {
	if maxSize > 0 {
		r = io.LimitReader(r, maxSize+1)
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", name, err)
	}
	if maxSize > 0 && int64(len(data)) > maxSize {
		return nil, fmt.Errorf("%w: %s exceeds %d bytes", ErrTooLarge, name, maxSize)
	}
	return data, ctx.Err()
}

func pdfText(data []byte) (string, error) {
	reader, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", err
	}
	var b strings.Builder
	for i := 1; i <= reader.NumPage(); i++ {
		page := reader.Page(i)
		if page.V.IsNull() {
			continue
		}
		text, err := page.GetPlainText(nil)
		if err != nil {
			return "", fmt.Errorf("page %d: %w", i, err)
		}
		b.WriteString(text)
		b.WriteString("\n")
	}
	return b.String(), nil
}

var (
	wordRun       = regexp.MustCompile(`<w:t(?:\s[^>]*)?>([^<]*)</w:t>`)
	wordParagraph = regexp.MustCompile(`</w:p>`)
	slideRun      = regexp.MustCompile(`<a:t>([^<]*)</a:t>`)
	slideName     = regexp.MustCompile(`^ppt/slides/slide(\d+)\.xml$`)
)

// docxText reads document.xml through the docx package and keeps the text
// runs, one line per paragraph.
func docxText(data []byte) (string, error) {
	r, err := docx.ReadDocxFromMemory(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", err
	}
	defer r.Close()

	var b strings.Builder
	for _, para := range wordParagraph.Split(r.Editable().GetContent(), -1) {
		var line strings.Builder
		for _, m := range wordRun.FindAllStringSubmatch(para, -1) {
			line.WriteString(html.UnescapeString(m[1]))
		}
		if s := strings.TrimSpace(line.String()); s != "" {
			b.WriteString(s)
			b.WriteString("\n")
		}
	}
	return b.String(), nil
}

func xlsxText(data []byte) (string, error) {
	f, err := excelize.OpenReader(bytes.NewReader(data))
	if err != nil {
		return "", err
	}
	defer f.Close()

	var b strings.Builder
	for _, sheet := range f.GetSheetList() {
		rows, err := f.GetRows(sheet)
		if err != nil {
			continue
		}
		fmt.Fprintf(&b, "## Sheet: %s\n", sheet)
		for _, row := range rows {
			b.WriteString(strings.Join(row, "\t"))
			b.WriteString("\n")
		}
	}
	return b.String(), nil
}

// pptxText concatenates the text runs of each slide in slide order.
func pptxText(data []byte) (string, error) {
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", err
	}

	slides := map[int]string{}
	maxSlide := 0
	for _, f := range zr.File {
		m := slideName.FindStringSubmatch(f.Name)
		if m == nil {
			continue
		}
		var n int
		fmt.Sscanf(m[1], "%d", &n)
		rc, err := f.Open()
		if err != nil {
			continue
		}
		xml, err := io.ReadAll(rc)
		rc.Close()
		if err != nil {
			continue
		}
		var parts []string
		for _, run := range slideRun.FindAllStringSubmatch(string(xml), -1) {
			parts = append(parts, html.UnescapeString(run[1]))
		}
		slides[n] = strings.Join(parts, " ")
		maxSlide = max(maxSlide, n)
	}

	var b strings.Builder
	for i := 1; i <= maxSlide; i++ {
		if text := strings.TrimSpace(slides[i]); text != "" {
			b.WriteString(text)
			b.WriteString("\n")
		}
	}
	return b.String(), nil
}
