package ingest

import (
	"bytes"
	"context"
	"encoding/base64"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"mime/quotedprintable"
	"net/mail"
	"path/filepath"
	"regexp"
	"strings"

	"golang.org/x/net/html"

	"github.com/joseph-ayodele/expense-extractor/constants"
)

type attachment struct {
	filename string
	mime     string
	data     []byte
}

type parsedEmail struct {
	plain       string
	html        string
	attachments []attachment
}

var wordDecoder = new(mime.WordDecoder)

// emailPages expands an RFC 822 message: the body becomes the e-mail context
// and every PDF or image attachment contributes pages in order.
func (n *DocumentNormalizer) emailPages(ctx context.Context, filename string, data []byte) ([]Page, string, error) {
	if constants.NormalizeExt(filepath.Ext(filename)) == "msg" {
		return nil, "", fmt.Errorf("%w: Outlook .msg containers are not supported, submit the .eml or the attachments", ErrUnsupported)
	}
	msg, err := parseEmail(data)
	if err != nil {
		return nil, "", err
	}
	body := msg.plain
	if strings.TrimSpace(body) == "" {
		body = htmlToText(msg.html)
	}

	var pages []Page
	for _, a := range msg.attachments {
		var (
			p   []Page
			err error
		)
		switch constants.GuessKind(a.filename, a.mime, a.data) {
		case constants.PDF:
			p, err = n.pdfPages(ctx, a.data)
		case constants.IMAGE:
			var png []byte
			if png, err = NormalizePNG(a.data, n.cfg.MaxImageSide); err == nil {
				p = []Page{{PNG: png}}
			}
		default:
			n.logger.Debug("ingest.email.attachment_skipped", "attachment", a.filename, "mime", a.mime)
			continue
		}
		if err != nil {
			n.logger.Warn("ingest.email.attachment_failed", "attachment", a.filename, "error", err)
			continue
		}
		pages = append(pages, p...)
	}
	return pages, strings.TrimSpace(body), nil
}

func parseEmail(data []byte) (parsedEmail, error) {
	m, err := mail.ReadMessage(bytes.NewReader(data))
	if err != nil {
		return parsedEmail{}, fmt.Errorf("read message: %w", err)
	}
	var out parsedEmail
	if err := walkPart(&out, m.Header.Get("Content-Type"), m.Header.Get("Content-Transfer-Encoding"), m.Header.Get("Content-Disposition"), m.Body); err != nil {
		return parsedEmail{}, err
	}
	return out, nil
}

func walkPart(out *parsedEmail, contentType, encoding, disposition string, body io.Reader) error {
	if contentType == "" {
		contentType = "text/plain"
	}
	mediaType, params, err := mime.ParseMediaType(contentType)
	if err != nil {
		mediaType = "application/octet-stream"
	}

	if strings.HasPrefix(mediaType, "multipart/") {
		mr := multipart.NewReader(body, params["boundary"])
		for {
			part, err := mr.NextRawPart()
			if err == io.EOF {
				return nil
			}
			if err != nil {
				return fmt.Errorf("read part: %w", err)
			}
			if err := walkPart(out,
				part.Header.Get("Content-Type"),
				part.Header.Get("Content-Transfer-Encoding"),
				part.Header.Get("Content-Disposition"),
				part,
			); err != nil {
				return err
			}
		}
	}

	raw, err := io.ReadAll(decodeTransfer(encoding, body))
	if err != nil {
		return fmt.Errorf("decode part: %w", err)
	}

	name := partFilename(disposition, params)
	isAttachment := name != "" || strings.HasPrefix(strings.ToLower(disposition), "attachment")
	switch {
	case !isAttachment && mediaType == "text/plain":
		out.plain += string(raw)
	case !isAttachment && mediaType == "text/html":
		out.html += string(raw)
	default:
		if name == "" {
			name = "attachment"
		}
		out.attachments = append(out.attachments, attachment{filename: name, mime: mediaType, data: raw})
	}
	return nil
}

func decodeTransfer(encoding string, r io.Reader) io.Reader {
	switch strings.ToLower(strings.TrimSpace(encoding)) {
	case "base64":
		return base64.NewDecoder(base64.StdEncoding, &newlineStripper{r: r})
	case "quoted-printable":
		return quotedprintable.NewReader(r)
	}
	return r
}

func partFilename(disposition string, ctParams map[string]string) string {
	var name string
	if disposition != "" {
		if _, p, err := mime.ParseMediaType(disposition); err == nil {
			name = p["filename"]
		}
	}
	if name == "" {
		name = ctParams["name"]
	}
	if dec, err := wordDecoder.DecodeHeader(name); err == nil {
		name = dec
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return ""
	}
	return filepath.Base(name)
}

// newlineStripper drops CR/LF so base64 bodies wrapped at 76 columns decode.
type newlineStripper struct {
	r io.Reader
}

func (s *newlineStripper) Read(p []byte) (int, error) {
	for {
		n, err := s.r.Read(p)
		j := 0
		for _, c := range p[:n] {
			if c != '\r' && c != '\n' {
				p[j] = c
				j++
			}
		}
		if j > 0 || err != nil {
			return j, err
		}
	}
}

// htmlToText keeps the visible text of an HTML body, one line per block.
func htmlToText(s string) string {
	if s == "" {
		return ""
	}
	var (
		b    strings.Builder
		skip int
	)
	z := html.NewTokenizer(strings.NewReader(s))
	for {
		switch z.Next() {
		case html.ErrorToken:
			lines := strings.Split(b.String(), "\n")
			for i := range lines {
				lines[i] = strings.TrimSpace(lines[i])
			}
			return strings.TrimSpace(reBlankRun.ReplaceAllString(strings.Join(lines, "\n"), "\n\n"))
		case html.StartTagToken, html.SelfClosingTagToken:
			name, _ := z.TagName()
			switch string(name) {
			case "script", "style", "head":
				skip++
			case "br", "p", "div", "tr", "li", "table":
				b.WriteByte('\n')
			case "td", "th":
				b.WriteByte(' ')
			}
		case html.EndTagToken:
			name, _ := z.TagName()
			switch string(name) {
			case "script", "style", "head":
				if skip > 0 {
					skip--
				}
			case "p", "div", "tr", "table":
				b.WriteByte('\n')
			}
		case html.TextToken:
			if skip == 0 {
				b.WriteString(reSpaceRun.ReplaceAllString(string(z.Text()), " "))
			}
		}
	}
}

var (
	reBlankRun = regexp.MustCompile(`\n{3,}`)
	reSpaceRun = regexp.MustCompile(`\s+`)
)
