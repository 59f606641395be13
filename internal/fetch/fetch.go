// Package fetch retrieves threat report articles and extracts their
// readable body text and image URLs. OCR and PDF text extraction are
// external collaborators injected as interfaces.
package fetch

import (
	"bytes"
	"context"
	"crypto/tls"
	"fmt"
	"image"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"sort"
	"strings"
	"time"

	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"

	"github.com/PuerkitoBio/goquery"
	"github.com/rs/zerolog/log"
	"golang.org/x/net/html"
)

// Page is the fetched content of one article URL.
type Page struct {
	Text   string
	Images []string
	Title  string
	URL    string
}

// OCREngine extracts text from a raster image.
type OCREngine interface {
	ExtractText(ctx context.Context, imageData []byte) (string, error)
}

// PDFExtractor extracts plain text from a PDF document.
type PDFExtractor interface {
	ExtractText(ctx context.Context, pdfData []byte) (string, error)
}

// NoOCR is the default engine when no OCR backend is configured.
type NoOCR struct{}

func (NoOCR) ExtractText(context.Context, []byte) (string, error) { return "", nil }

// NoPDF is the default extractor when no PDF backend is configured.
type NoPDF struct{}

func (NoPDF) ExtractText(context.Context, []byte) (string, error) { return "", nil }

const (
	fetchTimeout     = 30 * time.Second
	imageTimeout     = 15 * time.Second
	minArticleChars  = 200
	minImageSide     = 50
	defaultMaxImages = 30
	maxResponseBytes = 20 << 20
)

var browserHeaders = map[string]string{
	"User-Agent": "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 " +
		"(KHTML, like Gecko) Chrome/131.0.0.0 Safari/537.36",
	"Accept":          "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8",
	"Accept-Language": "en-US,en;q=0.9",
}

// class name fragments that usually wrap the article body
var contentClasses = []string{
	"articlebody", "article-body", "article-content",
	"entry-content", "post-body", "post-content",
	"story-body", "content-body", "blog-content",
	"article__body",
}

var blankLinesRe = regexp.MustCompile(`\n{3,}`)

// Fetcher retrieves article pages and runs the image OCR loop.
type Fetcher struct {
	client    *http.Client
	insecure  *http.Client
	OCR       OCREngine
	PDF       PDFExtractor
	MaxImages int
}

// New builds a Fetcher with no-op OCR and PDF backends.
func New() *Fetcher {
	return &Fetcher{
		client: &http.Client{Timeout: fetchTimeout},
		insecure: &http.Client{
			Timeout: fetchTimeout,
			Transport: &http.Transport{
				TLSClientConfig: &tls.Config{InsecureSkipVerify: true},
			},
		},
		OCR:       NoOCR{},
		PDF:       NoPDF{},
		MaxImages: defaultMaxImages,
	}
}

// FetchArticle downloads a report URL and extracts its readable text,
// title and image URLs. Sites with broken certificates get one retry
// without verification, matching how analysts reach takedown mirrors.
func (f *Fetcher) FetchArticle(ctx context.Context, pageURL string) (*Page, error) {
	body, err := f.get(ctx, f.client, pageURL)
	if err != nil {
		log.Warn().Err(err).Str("url", pageURL).Msg("HTTP fetch failed, retrying without TLS verification")
		body, err = f.get(ctx, f.insecure, pageURL)
		if err != nil {
			return nil, fmt.Errorf("fetching %s: %w", pageURL, err)
		}
	}

	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("parsing %s: %w", pageURL, err)
	}

	page := &Page{
		Title: strings.TrimSpace(doc.Find("title").First().Text()),
		URL:   pageURL,
	}

	base, _ := url.Parse(pageURL)
	page.Images = extractImageURLs(doc, base)

	doc.Find("script, style, nav, footer, header, noscript, aside").Remove()
	page.Text = extractArticleText(doc)

	log.Info().Str("url", pageURL).Int("chars", len(page.Text)).
		Int("images", len(page.Images)).Msg("Fetched article")
	return page, nil
}

func (f *Fetcher) get(ctx context.Context, client *http.Client, target string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, err
	}
	for k, v := range browserHeaders {
		req.Header.Set(k, v)
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	return io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
}

// extractArticleText tries progressively broader content strategies and
// keeps the longest candidate: known body classes, then article/main
// tags, then the densest div, then the whole page.
func extractArticleText(doc *goquery.Document) string {
	best := ""

	doc.Find("[class]").Each(func(_ int, sel *goquery.Selection) {
		class, _ := sel.Attr("class")
		class = strings.ToLower(class)
		for _, cls := range contentClasses {
			if strings.Contains(class, cls) {
				if candidate := nodeText(sel); len(candidate) > len(best) {
					best = candidate
				}
				return
			}
		}
	})

	if len(best) < minArticleChars {
		doc.Find("article, main").Each(func(_ int, sel *goquery.Selection) {
			if candidate := nodeText(sel); len(candidate) > len(best) {
				best = candidate
			}
		})
	}

	if len(best) < minArticleChars {
		doc.Find("div").Each(func(_ int, sel *goquery.Selection) {
			divText := nodeText(sel)
			if len(divText) <= len(best) || len(divText) <= 300 {
				return
			}
			// skip huge wrapper divs by checking text density
			rawHTML, err := goquery.OuterHtml(sel)
			if err != nil || len(rawHTML) == 0 {
				return
			}
			if float64(len(divText))/float64(len(rawHTML)) > 0.15 {
				best = divText
			}
		})
	}

	if len(best) < minArticleChars {
		best = nodeText(doc.Selection)
	}

	return strings.TrimSpace(blankLinesRe.ReplaceAllString(best, "\n\n"))
}

// nodeText joins the trimmed text nodes of a selection with newlines.
func nodeText(sel *goquery.Selection) string {
	var parts []string
	for _, node := range sel.Nodes {
		collectText(node, &parts)
	}
	return strings.Join(parts, "\n")
}

func collectText(node *html.Node, parts *[]string) {
	if node.Type == html.TextNode {
		if text := strings.TrimSpace(node.Data); text != "" {
			*parts = append(*parts, text)
		}
		return
	}
	for child := node.FirstChild; child != nil; child = child.NextSibling {
		collectText(child, parts)
	}
}

// extractImageURLs collects img src and data-src values resolved against
// the page URL, deduplicated and sorted.
func extractImageURLs(doc *goquery.Document, base *url.URL) []string {
	seen := make(map[string]bool)
	doc.Find("img").Each(func(_ int, sel *goquery.Selection) {
		src, ok := sel.Attr("src")
		if !ok || src == "" {
			src, _ = sel.Attr("data-src")
		}
		if src == "" {
			return
		}
		if base != nil {
			if ref, err := url.Parse(src); err == nil {
				src = base.ResolveReference(ref).String()
			}
		}
		if strings.HasPrefix(src, "http") {
			seen[src] = true
		}
	})

	urls := make([]string, 0, len(seen))
	for u := range seen {
		urls = append(urls, u)
	}
	sort.Strings(urls)
	return urls
}

// ExtractImageText downloads up to MaxImages images and runs OCR on the
// ones large enough to carry text. Icon-sized images are skipped.
func (f *Fetcher) ExtractImageText(ctx context.Context, imageURLs []string) string {
	limit := f.MaxImages
	if limit <= 0 {
		limit = defaultMaxImages
	}
	if len(imageURLs) > limit {
		imageURLs = imageURLs[:limit]
	}

	var sections []string
	processed := 0
	for _, imageURL := range imageURLs {
		imgCtx, cancel := context.WithTimeout(ctx, imageTimeout)
		data, ctype, err := f.getImage(imgCtx, imageURL)
		cancel()
		if err != nil {
			log.Debug().Err(err).Str("url", imageURL).Msg("Could not fetch image")
			continue
		}
		if strings.Contains(ctype, "svg") {
			log.Debug().Str("url", imageURL).Msg("Skipping SVG image")
			continue
		}

		cfg, _, err := image.DecodeConfig(bytes.NewReader(data))
		if err != nil {
			log.Debug().Err(err).Str("url", imageURL).Msg("Could not decode image")
			continue
		}
		if cfg.Width < minImageSide || cfg.Height < minImageSide {
			continue
		}

		text, err := f.OCR.ExtractText(ctx, data)
		if err != nil {
			log.Debug().Err(err).Str("url", imageURL).Msg("OCR failed for image")
			continue
		}
		if strings.TrimSpace(text) == "" {
			continue
		}
		sections = append(sections, fmt.Sprintf("[IMAGE_URL: %s]\n%s", imageURL, strings.TrimSpace(text)))
		processed++
	}

	log.Info().Int("processed", processed).Int("candidates", len(imageURLs)).Msg("OCR image pass complete")
	return strings.Join(sections, "\n\n")
}

func (f *Fetcher) getImage(ctx context.Context, target string) ([]byte, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, "", err
	}
	req.Header.Set("User-Agent", browserHeaders["User-Agent"])

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, "", fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	return data, strings.ToLower(resp.Header.Get("Content-Type")), err
}

// ExtractPDFText delegates to the configured PDF backend.
func (f *Fetcher) ExtractPDFText(ctx context.Context, pdfData []byte) (string, error) {
	return f.PDF.ExtractText(ctx, pdfData)
}
