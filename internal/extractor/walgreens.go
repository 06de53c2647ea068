package extractor

import (
	"strings"

	"github.com/PuerkitoBio/goquery"
)

const walgreensHost = "https://www.walgreens.com"

// Walgreens extracts clearance/promotion listings from walgreens.com pages.
type Walgreens struct{}

func (Walgreens) Source() string { return "walgreens" }

func (Walgreens) ListingPageSelector() string { return "ul.product-container" }

func (Walgreens) DetailSelector() string { return "ul#thumbnailImages" }

func (w Walgreens) HarvestListingURLs(pageHTML string, max int) ([]string, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(pageHTML))
	if err != nil {
		return nil, err
	}
	container := doc.Find("ul.product-container").First()
	if container.Length() == 0 {
		return nil, nil
	}

	var urls []string
	container.Find("li.item.owned-brands").EachWithBreak(func(_ int, li *goquery.Selection) bool {
		if max > 0 && len(urls) >= max {
			return false
		}
		href, ok := li.Find("a[href]").First().Attr("href")
		if !ok || strings.TrimSpace(href) == "" {
			return true
		}
		href = strings.TrimSpace(href)
		if strings.HasPrefix(href, "/") {
			href = walgreensHost + href
		}
		urls = append(urls, href)
		return true
	})
	return urls, nil
}

func (w Walgreens) Extract(pageHTML, productURL string) (Listing, error) {
	if strings.TrimSpace(productURL) == "" {
		return Listing{}, missingField("product_url")
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(pageHTML))
	if err != nil {
		return Listing{}, err
	}

	// Full product name (brand, title, size) lives in h1#productName.
	title := collapseText(doc.Find("h1#productName").First().Text())
	if title == "" {
		return Listing{}, missingField("title")
	}

	regularPrice := NoRegularPrice
	if sel := doc.Find("div#regular-price-wag-hn-lt-bold").First(); sel.Length() > 0 {
		if text := collapseText(strings.ReplaceAll(sel.Text(), "old price", "")); text != "" {
			regularPrice = text
		}
	}

	salePrice := NoSalesPrice
	if sel := doc.Find("span#sales-price").First(); sel.Length() > 0 {
		if text := collapseText(strings.ReplaceAll(sel.Text(), "Sale price", "")); text != "" {
			salePrice = text
		}
	}

	var images []string
	// The hero image is a background-image style; it is the canonical
	// reference image and must come first.
	doc.Find("div[style]").EachWithBreak(func(_ int, sel *goquery.Selection) bool {
		style, _ := sel.Attr("style")
		if !strings.Contains(style, "background-image") {
			return true
		}
		if u := backgroundImageURL(style); u != "" {
			images = append(images, normalizeImageURL(u))
		}
		return false
	})

	// Thumbnail carousel as fallback/additional images; absent carousels are
	// tolerated.
	doc.Find("ul#thumbnailImages li img").Each(func(_ int, img *goquery.Selection) {
		if src, ok := img.Attr("src"); ok && strings.TrimSpace(src) != "" {
			images = append(images, normalizeImageURL(strings.TrimSpace(src)))
		}
	})

	return Listing{
		Title:        title,
		RegularPrice: regularPrice,
		SalePrice:    salePrice,
		ImageURLs:    images,
		ProductURL:   productURL,
		Source:       w.Source(),
	}, nil
}

// backgroundImageURL pulls the url(...) argument out of an inline style.
func backgroundImageURL(style string) string {
	idx := strings.LastIndex(style, "url(")
	if idx < 0 {
		return ""
	}
	rest := style[idx+len("url("):]
	end := strings.Index(rest, ")")
	if end < 0 {
		return ""
	}
	u := strings.TrimSpace(rest[:end])
	u = strings.Trim(u, `"'`)
	return u
}

var _ Extractor = Walgreens{}
