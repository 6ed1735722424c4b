package document

import (
	"archive/zip"
	"bytes"
	"encoding/base64"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"net/url"
	"path"
	"strings"

	"golang.org/x/net/html"
)

const containerPath = "META-INF/container.xml"

type epubContainer struct {
	Rootfiles []struct {
		FullPath string `xml:"full-path,attr"`
	} `xml:"rootfiles>rootfile"`
}

type epubPackage struct {
	Titles   []string `xml:"metadata>title"`
	Creators []string `xml:"metadata>creator"`
	Meta     []struct {
		Name    string `xml:"name,attr"`
		Content string `xml:"content,attr"`
	} `xml:"metadata>meta"`
	Items []struct {
		ID         string `xml:"id,attr"`
		Href       string `xml:"href,attr"`
		MediaType  string `xml:"media-type,attr"`
		Properties string `xml:"properties,attr"`
	} `xml:"manifest>item"`
	Spine []struct {
		IDRef string `xml:"idref,attr"`
	} `xml:"spine>itemref"`
}

// epubBook is an opened archive with its package document resolved.
type epubBook struct {
	zip     *zip.Reader
	opfDir  string
	pkg     epubPackage
	hrefs   map[string]string
	types   map[string]string
	chapter []string
}

func openEPUB(data []byte) (*epubBook, error) {
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, fmt.Errorf("open epub: %w", err)
	}
	b := &epubBook{zip: zr}
	var container epubContainer
	if err := b.readXML(containerPath, &container); err != nil {
		return nil, err
	}
	if len(container.Rootfiles) == 0 || container.Rootfiles[0].FullPath == "" {
		return nil, errors.New("epub container has no rootfile")
	}
	opfPath := container.Rootfiles[0].FullPath
	if err := b.readXML(opfPath, &b.pkg); err != nil {
		return nil, err
	}
	b.opfDir = path.Dir(opfPath)
	b.hrefs = make(map[string]string, len(b.pkg.Items))
	b.types = make(map[string]string, len(b.pkg.Items))
	for _, item := range b.pkg.Items {
		b.hrefs[item.ID] = b.resolve(item.Href)
		b.types[item.ID] = item.MediaType
	}
	for _, ref := range b.pkg.Spine {
		if href, ok := b.hrefs[ref.IDRef]; ok {
			b.chapter = append(b.chapter, href)
		}
	}
	return b, nil
}

func (b *epubBook) resolve(href string) string {
	if unescaped, err := url.PathUnescape(href); err == nil {
		href = unescaped
	}
	if i := strings.IndexByte(href, '#'); i >= 0 {
		href = href[:i]
	}
	if b.opfDir == "." || b.opfDir == "" {
		return path.Clean(href)
	}
	return path.Join(b.opfDir, href)
}

func (b *epubBook) read(name string) ([]byte, error) {
	f, err := b.zip.Open(name)
	if err != nil {
		return nil, fmt.Errorf("epub entry %s: %w", name, err)
	}
	defer f.Close()
	data, err := io.ReadAll(f)
	if err != nil {
		return nil, fmt.Errorf("read epub entry %s: %w", name, err)
	}
	return data, nil
}

func (b *epubBook) readXML(name string, out any) error {
	data, err := b.read(name)
	if err != nil {
		return err
	}
	if err := xml.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decode %s: %w", name, err)
	}
	return nil
}

// coverID prefers the EPUB 3 cover-image property over the EPUB 2 meta.
func (b *epubBook) coverID() string {
	for _, item := range b.pkg.Items {
		for _, p := range strings.Fields(item.Properties) {
			if p == "cover-image" {
				return item.ID
			}
		}
	}
	for _, m := range b.pkg.Meta {
		if m.Name == "cover" {
			return m.Content
		}
	}
	return ""
}

func (b *epubBook) coverDataURL() string {
	id := b.coverID()
	href, ok := b.hrefs[id]
	if !ok {
		return ""
	}
	data, err := b.read(href)
	if err != nil || len(data) == 0 {
		return ""
	}
	mediaType := b.types[id]
	if mediaType == "" {
		mediaType = "image/jpeg"
	}
	return "data:" + mediaType + ";base64," + base64.StdEncoding.EncodeToString(data)
}

func first(values []string) string {
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}

func parseEPUB(data []byte) (Document, error) {
	b, err := openEPUB(data)
	if err != nil {
		return Document{}, err
	}
	return Document{
		Title:      first(b.pkg.Titles),
		Author:     first(b.pkg.Creators),
		NumPages:   len(b.chapter),
		CoverImage: b.coverDataURL(),
	}, nil
}

func epubPageText(data []byte, page int) (string, error) {
	b, err := openEPUB(data)
	if err != nil {
		return "", err
	}
	if page < 1 || page > len(b.chapter) {
		return "", fmt.Errorf("%w: %d of %d", ErrPageOutOfRange, page, len(b.chapter))
	}
	raw, err := b.read(b.chapter[page-1])
	if err != nil {
		return "", err
	}
	doc, err := html.Parse(bytes.NewReader(raw))
	if err != nil {
		return "", fmt.Errorf("parse epub html: %w", err)
	}
	return normalizeTextPreserveNewlines(extractText(doc)), nil
}
