package services

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"query-sphere/internal/testdoc"
	"query-sphere/models"
)

func TestDetectKind(t *testing.T) {
	tests := []struct {
		name     string
		filename string
		data     string
		want     models.DocumentKind
		wantErr  bool
	}{
		{"pdf extension", "policy.PDF", "", models.KindPDF, false},
		{"docx extension", "contract.docx", "", models.KindDOCX, false},
		{"eml extension", "mail.eml", "", models.KindEML, false},
		{"pdf magic", "download", "%PDF-1.7 ...", models.KindPDF, false},
		{"docx zip", "download", "PK\x03\x04....word/document.xml", models.KindDOCX, false},
		{"plain zip", "archive", "PK\x03\x04....", "", true},
		{"text file", "notes.txt", "hello", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := DetectKind(tt.filename, []byte(tt.data))
			if tt.wantErr {
				if !errors.Is(err, models.ErrUnsupportedDocument) {
					t.Fatalf("expected ErrUnsupportedDocument, got %v", err)
				}
				if !errors.Is(err, models.ErrUnreadableDocument) {
					t.Fatalf("unsupported documents should also be unreadable")
				}
				return
			}
			if err != nil || got != tt.want {
				t.Fatalf("got %q, %v; want %q", got, err, tt.want)
			}
		})
	}
}

func TestLoadRejectsInvalidPDF(t *testing.T) {
	l := NewDocumentLoader(1<<20, time.Second)
	_, err := l.Load(context.Background(), models.Upload{Filename: "broken.pdf", Data: []byte("%PDF-1.4 this is not really a pdf")})
	if !errors.Is(err, models.ErrUnreadableDocument) {
		t.Fatalf("expected ErrUnreadableDocument, got %v", err)
	}
}

func TestLoadPDFPages(t *testing.T) {
	l := NewDocumentLoader(1<<20, time.Second)
	data := testdoc.PDF(
		"The grace period for premium payment is thirty days.",
		"",
		"Claims must be filed within ninety days of discharge.",
	)

	doc, err := l.Load(context.Background(), models.Upload{Filename: "policy.pdf", Data: data})
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if doc.Kind != models.KindPDF || doc.PageCount != 2 || len(doc.Pages) != 2 {
		t.Fatalf("expected two text pages, got %+v", doc.Pages)
	}
	if doc.Pages[0].Source != "PDF page 1" || doc.Pages[1].Source != "PDF page 3" {
		t.Fatalf("pages should keep their PDF numbers, got %q and %q", doc.Pages[0].Source, doc.Pages[1].Source)
	}
	if !strings.Contains(doc.Pages[0].Text, "thirty days") || !strings.Contains(doc.Pages[1].Text, "ninety days") {
		t.Fatalf("unexpected page text %+v", doc.Pages)
	}
}

func TestLoadPDFWithoutText(t *testing.T) {
	l := NewDocumentLoader(1<<20, time.Second)
	_, err := l.Load(context.Background(), models.Upload{Filename: "scan.pdf", Data: testdoc.PDF("", "")})
	if !errors.Is(err, models.ErrUnreadableDocument) {
		t.Fatalf("expected ErrUnreadableDocument for a PDF without text, got %v", err)
	}
}

func TestLoadPDFCanceled(t *testing.T) {
	l := NewDocumentLoader(1<<20, time.Second)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := l.Load(ctx, models.Upload{Filename: "policy.pdf", Data: testdoc.PDF("Some text.")})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if errors.Is(err, models.ErrUnreadableDocument) {
		t.Fatalf("a canceled load is not an unreadable document")
	}
	if !strings.Contains(err.Error(), "page 1") {
		t.Fatalf("error should name the page, got %v", err)
	}
}

func TestLoadRejectsEmptyAndOversized(t *testing.T) {
	l := NewDocumentLoader(10, time.Second)
	if _, err := l.Load(context.Background(), models.Upload{Filename: "a.pdf"}); !errors.Is(err, models.ErrUnreadableDocument) {
		t.Fatalf("expected ErrUnreadableDocument for empty upload, got %v", err)
	}
	if _, err := l.Load(context.Background(), models.Upload{Filename: "a.pdf", Data: make([]byte, 11)}); !errors.Is(err, models.ErrDocumentTooLarge) {
		t.Fatalf("expected ErrDocumentTooLarge, got %v", err)
	}
}

const multipartEmail = "From: legal@example.com\r\n" +
	"To: team@example.com\r\n" +
	"Subject: Policy update\r\n" +
	"MIME-Version: 1.0\r\n" +
	"Content-Type: multipart/mixed; boundary=\"outer\"\r\n" +
	"\r\n" +
	"--outer\r\n" +
	"Content-Type: multipart/alternative; boundary=\"inner\"\r\n" +
	"\r\n" +
	"--inner\r\n" +
	"Content-Type: text/plain; charset=utf-8\r\n" +
	"Content-Transfer-Encoding: quoted-printable\r\n" +
	"\r\n" +
	"Hi all,\r\n" +
	"\r\n" +
	"The grace period for premium payment is thirty days from the due da=\r\n" +
	"te, after which the policy lapses.\r\n" +
	"\r\n" +
	"Maternity expenses are covered after twenty four months of continuous coverage.\r\n" +
	"--inner\r\n" +
	"Content-Type: text/html\r\n" +
	"\r\n" +
	"<p>ignored when plain text exists</p>\r\n" +
	"--inner--\r\n" +
	"--outer\r\n" +
	"Content-Type: application/pdf\r\n" +
	"Content-Disposition: attachment; filename=\"policy.pdf\"\r\n" +
	"Content-Transfer-Encoding: base64\r\n" +
	"\r\n" +
	"JVBERi0xLjQK\r\n" +
	"--outer--\r\n"

func TestLoadEmailMultipart(t *testing.T) {
	l := NewDocumentLoader(1<<20, time.Second)
	doc, err := l.Load(context.Background(), models.Upload{Filename: "update.eml", Data: []byte(multipartEmail)})
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if doc.Kind != models.KindEML {
		t.Fatalf("unexpected kind %q", doc.Kind)
	}
	// "Hi all," is below the paragraph minimum
	if doc.PageCount != 2 {
		t.Fatalf("expected 2 paragraphs, got %d", doc.PageCount)
	}
	if !strings.Contains(doc.Pages[0].Text, "thirty days from the due date") {
		t.Fatalf("quoted-printable not decoded: %q", doc.Pages[0].Text)
	}
	if doc.Pages[0].Source != "Paragraph 2" || doc.Pages[1].Source != "Paragraph 3" {
		t.Fatalf("unexpected sources %q, %q", doc.Pages[0].Source, doc.Pages[1].Source)
	}
}

func TestLoadEmailHTMLOnly(t *testing.T) {
	raw := "From: a@example.com\r\n" +
		"Subject: html\r\n" +
		"Content-Type: text/html; charset=utf-8\r\n" +
		"\r\n" +
		"<html><head><style>p{color:red}</style></head><body>" +
		"<p>The waiting period for pre-existing diseases is thirty six months.</p>" +
		"<p>short</p>" +
		"</body></html>"
	l := NewDocumentLoader(1<<20, time.Second)
	doc, err := l.Load(context.Background(), models.Upload{Filename: "html.eml", Data: []byte(raw)})
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if doc.PageCount != 1 {
		t.Fatalf("expected 1 paragraph, got %d", doc.PageCount)
	}
	if strings.Contains(doc.Pages[0].Text, "color") {
		t.Fatalf("style content leaked into text: %q", doc.Pages[0].Text)
	}
}

func TestDocxParagraphs(t *testing.T) {
	content := `<w:document xmlns:w="http://schemas.openxmlformats.org/wordprocessingml/2006/main"><w:body>` +
		`<w:p><w:r><w:t>Section one </w:t></w:r><w:r><w:t xml:space="preserve">continues here.</w:t></w:r></w:p>` +
		`<w:p><w:r><w:t>Tab</w:t><w:tab/><w:t>separated</w:t></w:r></w:p>` +
		`<w:p></w:p>` +
		`</w:body></w:document>`

	paragraphs, err := docxParagraphs(content)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if len(paragraphs) != 3 {
		t.Fatalf("expected 3 paragraphs, got %d: %q", len(paragraphs), paragraphs)
	}
	if paragraphs[0] != "Section one continues here." {
		t.Fatalf("unexpected first paragraph %q", paragraphs[0])
	}
	if paragraphs[1] != "Tab\tseparated" {
		t.Fatalf("unexpected second paragraph %q", paragraphs[1])
	}
}

func TestParagraphPagesFiltersShort(t *testing.T) {
	l := NewDocumentLoader(0, time.Second)
	pages := l.paragraphPages([]string{
		"Title",
		"This paragraph is comfortably   longer than forty characters.",
		"",
	}, "Section")
	if len(pages) != 1 {
		t.Fatalf("expected 1 page, got %d", len(pages))
	}
	if pages[0].Number != 2 || pages[0].Source != "Section 2" {
		t.Fatalf("unexpected page %+v", pages[0])
	}
	if strings.Contains(pages[0].Text, "  ") {
		t.Fatalf("whitespace not normalised: %q", pages[0].Text)
	}
}

func TestFetch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/docs/policy.pdf":
			w.Header().Set("Content-Type", "application/pdf")
			w.Write([]byte("%PDF-1.4"))
		case "/big.pdf":
			w.Write(make([]byte, 64))
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	l := NewDocumentLoader(32, time.Second, WithPrivateFetch(true))

	up, err := l.Fetch(context.Background(), srv.URL+"/docs/policy.pdf?sig=abc")
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if up.Filename != "policy.pdf" || up.ContentType != "application/pdf" || string(up.Data) != "%PDF-1.4" {
		t.Fatalf("unexpected upload %+v", up)
	}

	if _, err := l.Fetch(context.Background(), srv.URL+"/missing.pdf"); !errors.Is(err, models.ErrDocumentFetch) {
		t.Fatalf("expected ErrDocumentFetch for 404, got %v", err)
	}
	if _, err := l.Fetch(context.Background(), srv.URL+"/big.pdf"); !errors.Is(err, models.ErrDocumentTooLarge) {
		t.Fatalf("expected ErrDocumentTooLarge, got %v", err)
	}
	if _, err := l.Fetch(context.Background(), "file:///etc/passwd"); !errors.Is(err, models.ErrDocumentFetch) {
		t.Fatalf("expected ErrDocumentFetch for non-http scheme, got %v", err)
	}
}

func TestFetchRefusesPrivateAddresses(t *testing.T) {
	hits := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits++
		w.Write([]byte("%PDF-1.4"))
	}))
	defer srv.Close()

	l := NewDocumentLoader(1<<20, time.Second)
	for _, target := range []string{srv.URL + "/policy.pdf", "http://169.254.169.254/latest/meta-data"} {
		_, err := l.Fetch(context.Background(), target)
		if !errors.Is(err, models.ErrDocumentFetch) || !errors.Is(err, errBlockedAddress) {
			t.Fatalf("%s: expected a refused address, got %v", target, err)
		}
	}
	if hits != 0 {
		t.Fatalf("loopback server should never be reached")
	}
}

func TestRefusePrivateAddress(t *testing.T) {
	tests := []struct {
		address string
		refused bool
	}{
		{"127.0.0.1:80", true},
		{"10.1.2.3:443", true},
		{"192.168.0.10:8080", true},
		{"169.254.169.254:80", true},
		{"[::1]:80", true},
		{"[fe80::1]:80", true},
		{"0.0.0.0:80", true},
		{"93.184.216.34:443", false},
		{"[2606:4700::1111]:443", false},
	}
	for _, tt := range tests {
		err := refusePrivateAddress("tcp", tt.address, nil)
		if refused := errors.Is(err, errBlockedAddress); refused != tt.refused {
			t.Errorf("%s: refused=%v, want %v (err %v)", tt.address, refused, tt.refused, err)
		}
	}
}
