package services

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"mime/quotedprintable"
	"net"
	"net/http"
	"net/mail"
	"net/url"
	"path"
	"strings"
	"syscall"
	"time"
	"unicode/utf8"

	"query-sphere/internal/logger"
	"query-sphere/models"

	"github.com/PuerkitoBio/goquery"
	"github.com/google/uuid"
	"github.com/ledongthuc/pdf"
	"github.com/nguyenthenguyen/docx"
)

// DefaultMinParagraphChars drops DOCX and EML paragraphs too short to carry
// an answer (headings, signatures, blank lines).
const DefaultMinParagraphChars = 40

// DocumentLoader turns uploaded bytes into ordered pages of plain text.
type DocumentLoader struct {
	maxSize           int64
	minParagraphChars int
	httpClient        *http.Client
}

// errBlockedAddress is returned by the fetch dialer for addresses inside
// the host's own networks.
var errBlockedAddress = errors.New("address not allowed")

type LoaderOption func(*loaderSettings)

type loaderSettings struct {
	allowPrivate bool
}

// WithPrivateFetch lets Fetch reach loopback, private and link-local
// addresses. Off by default.
func WithPrivateFetch(allow bool) LoaderOption {
	return func(s *loaderSettings) { s.allowPrivate = allow }
}

func NewDocumentLoader(maxSize int64, fetchTimeout time.Duration, opts ...LoaderOption) *DocumentLoader {
	var settings loaderSettings
	for _, opt := range opts {
		opt(&settings)
	}

	dialer := &net.Dialer{Timeout: 10 * time.Second, KeepAlive: 30 * time.Second}
	transport := http.DefaultTransport.(*http.Transport).Clone()
	if !settings.allowPrivate {
		// The check runs on the resolved address, so DNS names pointing
		// inside the network are refused too. A proxy would dial for us.
		dialer.Control = refusePrivateAddress
		transport.Proxy = nil
	}
	transport.DialContext = dialer.DialContext

	return &DocumentLoader{
		maxSize:           maxSize,
		minParagraphChars: DefaultMinParagraphChars,
		httpClient:        &http.Client{Timeout: fetchTimeout, Transport: transport},
	}
}

func refusePrivateAddress(network, address string, _ syscall.RawConn) error {
	host, _, err := net.SplitHostPort(address)
	if err != nil {
		return err
	}
	ip := net.ParseIP(host)
	if ip == nil {
		return fmt.Errorf("%w: %s", errBlockedAddress, address)
	}
	if ip.IsLoopback() || ip.IsPrivate() || ip.IsLinkLocalUnicast() || ip.IsLinkLocalMulticast() ||
		ip.IsInterfaceLocalMulticast() || ip.IsMulticast() || ip.IsUnspecified() {
		return fmt.Errorf("%w: %s", errBlockedAddress, host)
	}
	return nil
}

// Load parses an upload. Format detection uses the file extension first and
// falls back to content sniffing.
func (l *DocumentLoader) Load(ctx context.Context, up models.Upload) (*models.Document, error) {
	if len(up.Data) == 0 {
		return nil, fmt.Errorf("%w: %s is empty", models.ErrUnreadableDocument, up.Filename)
	}
	if l.maxSize > 0 && int64(len(up.Data)) > l.maxSize {
		return nil, fmt.Errorf("%w: %d bytes", models.ErrDocumentTooLarge, len(up.Data))
	}

	kind, err := DetectKind(up.Filename, up.Data)
	if err != nil {
		return nil, err
	}

	var pages []models.Page
	switch kind {
	case models.KindPDF:
		pages, err = l.loadPDF(ctx, up.Data)
	case models.KindDOCX:
		pages, err = l.loadDOCX(up.Data)
	case models.KindEML:
		pages, err = l.loadEML(up.Data)
	}
	if err != nil {
		return nil, err
	}

	doc := &models.Document{
		ID:         uuid.NewString(),
		Filename:   up.Filename,
		Kind:       kind,
		Size:       int64(len(up.Data)),
		Pages:      pages,
		PageCount:  len(pages),
		UploadedAt: time.Now().UTC(),
	}
	for _, p := range pages {
		doc.CharCount += utf8.RuneCountInString(p.Text)
	}

	logger.Debug("Document loaded", "filename", up.Filename, "kind", kind, "pages", doc.PageCount, "chars", doc.CharCount)
	return doc, nil
}

// DetectKind maps a file name and its leading bytes to a supported format.
func DetectKind(filename string, data []byte) (models.DocumentKind, error) {
	switch strings.ToLower(path.Ext(filename)) {
	case ".pdf":
		return models.KindPDF, nil
	case ".docx":
		return models.KindDOCX, nil
	case ".eml":
		return models.KindEML, nil
	}

	switch {
	case bytes.HasPrefix(data, []byte("%PDF-")):
		return models.KindPDF, nil
	case bytes.HasPrefix(data, []byte("PK\x03\x04")) && bytes.Contains(data, []byte("word/document.xml")):
		return models.KindDOCX, nil
	}
	return "", fmt.Errorf("%w: %s", models.ErrUnsupportedDocument, filename)
}

// Fetch downloads a public document so it can go through Load.
func (l *DocumentLoader) Fetch(ctx context.Context, rawURL string) (models.Upload, error) {
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return models.Upload{}, fmt.Errorf("%w: invalid URL %q", models.ErrDocumentFetch, rawURL)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return models.Upload{}, fmt.Errorf("%w: %v", models.ErrDocumentFetch, err)
	}
	resp, err := l.httpClient.Do(req)
	if err != nil {
		return models.Upload{}, fmt.Errorf("%w: %w", models.ErrDocumentFetch, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return models.Upload{}, fmt.Errorf("%w: %s returned %s", models.ErrDocumentFetch, u.Host, resp.Status)
	}

	limit := l.maxSize
	if limit <= 0 {
		limit = 20 << 20
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, limit+1))
	if err != nil {
		return models.Upload{}, fmt.Errorf("%w: %v", models.ErrDocumentFetch, err)
	}
	if int64(len(data)) > limit {
		return models.Upload{}, fmt.Errorf("%w: more than %d bytes at %s", models.ErrDocumentTooLarge, limit, u.Host)
	}

	// last path segment, query already stripped by url.Parse
	name := path.Base(u.Path)
	if name == "." || name == "/" {
		name = u.Host
	}
	return models.Upload{Filename: name, ContentType: resp.Header.Get("Content-Type"), Data: data}, nil
}

func (l *DocumentLoader) loadPDF(ctx context.Context, data []byte) (pages []models.Page, err error) {
	// ledongthuc/pdf panics on some malformed cross-reference tables
	defer func() {
		if r := recover(); r != nil {
			pages = nil
			err = fmt.Errorf("%w: malformed PDF: %v", models.ErrUnreadableDocument, r)
		}
	}()

	reader, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, fmt.Errorf("%w: failed to create PDF reader: %v", models.ErrUnreadableDocument, err)
	}

	total := reader.NumPage()
	for i := 1; i <= total; i++ {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("PDF extraction stopped at page %d of %d: %w", i, total, err)
		}
		page := reader.Page(i)
		if page.V.IsNull() {
			continue
		}

		fonts := make(map[string]*pdf.Font)
		text, err := page.GetPlainText(fonts)
		if err != nil {
			logger.Warn("Failed to extract text from page", "page", i, "error", err)
			continue
		}
		text = strings.TrimSpace(text)
		if text == "" {
			continue
		}
		pages = append(pages, models.Page{Number: i, Source: fmt.Sprintf("PDF page %d", i), Text: text})
	}

	if len(pages) == 0 {
		return nil, fmt.Errorf("%w: no text extracted from %d pages", models.ErrUnreadableDocument, total)
	}
	return pages, nil
}

func (l *DocumentLoader) loadDOCX(data []byte) ([]models.Page, error) {
	r, err := docx.ReadDocxFromMemory(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", models.ErrUnreadableDocument, err)
	}
	defer r.Close()

	paragraphs, err := docxParagraphs(r.Editable().GetContent())
	if err != nil {
		return nil, fmt.Errorf("%w: %v", models.ErrUnreadableDocument, err)
	}
	return l.paragraphPages(paragraphs, "Section"), nil
}

// docxParagraphs collects the text runs of every w:p element in document.xml.
func docxParagraphs(content string) ([]string, error) {
	dec := xml.NewDecoder(strings.NewReader(content))
	dec.Strict = false

	var (
		paragraphs []string
		current    strings.Builder
		inText     bool
	)
	for {
		tok, err := dec.Token()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, err
		}

		switch t := tok.(type) {
		case xml.StartElement:
			switch t.Name.Local {
			case "t":
				inText = true
			case "tab":
				current.WriteByte('\t')
			case "br", "cr":
				current.WriteByte('\n')
			}
		case xml.EndElement:
			switch t.Name.Local {
			case "t":
				inText = false
			case "p":
				paragraphs = append(paragraphs, current.String())
				current.Reset()
			}
		case xml.CharData:
			if inText {
				current.Write(t)
			}
		}
	}
	if current.Len() > 0 {
		paragraphs = append(paragraphs, current.String())
	}
	return paragraphs, nil
}

func (l *DocumentLoader) loadEML(data []byte) ([]models.Page, error) {
	msg, err := mail.ReadMessage(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", models.ErrUnreadableDocument, err)
	}

	plain, html, err := emailBodies(msg.Header.Get("Content-Type"), msg.Header.Get("Content-Transfer-Encoding"), msg.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", models.ErrUnreadableDocument, err)
	}

	body := plain
	if strings.TrimSpace(body) == "" && html != "" {
		doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
		if err != nil {
			return nil, fmt.Errorf("%w: %v", models.ErrUnreadableDocument, err)
		}
		doc.Find("script, style").Remove()
		doc.Find("p, div, br, li, tr, h1, h2, h3, h4").Each(func(_ int, s *goquery.Selection) {
			s.AppendHtml("\n\n")
		})
		body = doc.Text()
	}

	body = strings.ReplaceAll(body, "\r\n", "\n")
	return l.paragraphPages(strings.Split(body, "\n\n"), "Paragraph"), nil
}

// emailBodies walks a (possibly nested) MIME tree and returns the first
// non-attachment text/plain and text/html bodies.
func emailBodies(contentType, encoding string, body io.Reader) (plain, html string, err error) {
	mediaType, params, perr := mime.ParseMediaType(contentType)
	if contentType == "" || perr != nil {
		mediaType = "text/plain"
	}

	if strings.HasPrefix(mediaType, "multipart/") {
		mr := multipart.NewReader(body, params["boundary"])
		for {
			part, err := mr.NextPart()
			if errors.Is(err, io.EOF) {
				break
			}
			if err != nil {
				return plain, html, err
			}
			if strings.Contains(strings.ToLower(part.Header.Get("Content-Disposition")), "attachment") {
				continue
			}
			p, h, err := emailBodies(part.Header.Get("Content-Type"), part.Header.Get("Content-Transfer-Encoding"), part)
			if err != nil {
				return plain, html, err
			}
			if plain == "" {
				plain = p
			}
			if html == "" {
				html = h
			}
			if plain != "" {
				break
			}
		}
		return plain, html, nil
	}

	decoded, err := io.ReadAll(decodeTransfer(encoding, body))
	if err != nil {
		return "", "", err
	}
	switch mediaType {
	case "text/plain":
		return string(decoded), "", nil
	case "text/html":
		return "", string(decoded), nil
	}
	return "", "", nil
}

func decodeTransfer(encoding string, r io.Reader) io.Reader {
	switch strings.ToLower(strings.TrimSpace(encoding)) {
	case "base64":
		return base64.NewDecoder(base64.StdEncoding, r)
	case "quoted-printable":
		return quotedprintable.NewReader(r)
	default:
		return r
	}
}

// paragraphPages normalises whitespace and turns each long enough paragraph
// into a page numbered by its position in the source.
func (l *DocumentLoader) paragraphPages(paragraphs []string, label string) []models.Page {
	var pages []models.Page
	for i, p := range paragraphs {
		text := strings.Join(strings.Fields(p), " ")
		if utf8.RuneCountInString(text) <= l.minParagraphChars {
			continue
		}
		pages = append(pages, models.Page{
			Number: i + 1,
			Source: fmt.Sprintf("%s %d", label, i+1),
			Text:   text,
		})
	}
	return pages
}
