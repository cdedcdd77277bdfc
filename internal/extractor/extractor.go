package extractor

import (
	"bytes"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"pb-watcher/internal/models"

	"github.com/PuerkitoBio/goquery"
)

// UnknownTitle is used when no title marker can be found in the page.
const UnknownTitle = "unknown item"

// UnknownPrice is used when no price marker can be found in the page.
const UnknownPrice = "---"

var (
	titleRe     = regexp.MustCompile(`<title>([^<]*?)\s*\|`)
	priceRe     = regexp.MustCompile(`price:\s*'(\d+)'`)
	stockRe     = regexp.MustCompile(`(?s)orderstock_list\s*=\s*\{.*?"(.*?)"\s*:\s*"(.*?)"`)
	maxQtyRe    = regexp.MustCompile(`(?s)ordermax_list\s*=\s*\{.*?"(.*?)"\s*:\s*(\d+)`)
	inlineImgRe = regexp.MustCompile(`imageUrl:\s*'([^']+)'`)
)

// availableGlyph marks an orderable item in the page's inline stock map.
const availableGlyph = "○"

// rule extracts one field into the snapshot. Rules are independent: a rule
// that finds nothing leaves its field at the sentinel/zero value and never
// affects the others.
type rule func(doc *goquery.Document, body string, snap *models.ProductSnapshot)

var rules = []rule{
	extractTitle,
	extractPrice,
	extractStock,
	extractMaxQuantity,
	extractImage,
}

// Extract builds a ProductSnapshot from raw page bytes. It degrades
// field-by-field: any subset of markers may be missing and the snapshot is
// still produced. Stock parsing is fail-closed: no stock marker means not
// available.
func Extract(body []byte, sourceURL string) models.ProductSnapshot {
	// goquery only fails on reader errors, which a bytes.Reader cannot
	// produce, but the rules tolerate a nil document anyway.
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		doc = nil
	}

	snap := models.ProductSnapshot{
		Title:        UnknownTitle,
		PriceDisplay: UnknownPrice,
		SourceURL:    sourceURL,
	}
	text := string(body)
	for _, r := range rules {
		r(doc, text, &snap)
	}
	snap.StatusText = statusText(snap.Available, snap.MaxQuantity)
	return snap
}

func extractTitle(doc *goquery.Document, body string, snap *models.ProductSnapshot) {
	if m := titleRe.FindStringSubmatch(body); m != nil {
		if title := strings.TrimSpace(m[1]); title != "" {
			snap.Title = title
			return
		}
	}
	if doc == nil {
		return
	}
	// Pages without the " |" suffix still carry a plain <title>.
	if title := strings.TrimSpace(doc.Find("title").First().Text()); title != "" {
		snap.Title = title
	}
}

func extractPrice(_ *goquery.Document, body string, snap *models.ProductSnapshot) {
	if m := priceRe.FindStringSubmatch(body); m != nil {
		snap.PriceDisplay = m[1] + " yen"
	}
}

func extractStock(_ *goquery.Document, body string, snap *models.ProductSnapshot) {
	m := stockRe.FindStringSubmatch(body)
	snap.Available = m != nil && m[2] == availableGlyph
}

func extractMaxQuantity(_ *goquery.Document, body string, snap *models.ProductSnapshot) {
	if m := maxQtyRe.FindStringSubmatch(body); m != nil {
		if qty, err := strconv.Atoi(m[2]); err == nil {
			snap.MaxQuantity = qty
		}
	}
}

func extractImage(doc *goquery.Document, body string, snap *models.ProductSnapshot) {
	if doc != nil {
		if img := doc.Find(`meta[property="og:image"]`).First().AttrOr("content", ""); img != "" {
			snap.ImageURL = img
			return
		}
	}
	if m := inlineImgRe.FindStringSubmatch(body); m != nil {
		snap.ImageURL = m[1]
	}
}

func statusText(available bool, maxQty int) string {
	if !available {
		return "out of stock"
	}
	if maxQty > 0 {
		return fmt.Sprintf("in stock (max %d)", maxQty)
	}
	return "in stock"
}
