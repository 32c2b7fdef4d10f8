package scraper

import (
	"github.com/maltedev/bestseller-affiliator/internal/browser"
	"github.com/maltedev/bestseller-affiliator/internal/locator"
)

// Listing selectors cover the current hashed class names first, then the
// older zg-grid and p13n layouts still served to some sessions.
var (
	listingNames = locator.Of(
		browser.Class("_cDEzb_p13n-sc-css-line-clamp-3_g3dy1"),
		browser.CSS(".a-link-normal .a-size-base"),
		browser.CSS("[id^='p13n-asin-index'] .p13n-sc-truncate"),
		browser.XPath("//div[contains(@class, 'p13n-sc-truncate')]"),
		browser.CSS(".zg-grid-general-faceout .p13n-sc-truncate-desktop-type2"),
		browser.CSS(".zg-item-immersion .a-text-normal"),
		browser.CSS(".p13n-sc-truncate-desktop-type2"),
		browser.CSS(".p13n-sc-truncate"),
	)

	listingPrices = locator.Of(
		browser.Class("_cDEzb_p13n-sc-price_3mJ9Z"),
		browser.CSS(".a-price-whole"),
		browser.CSS(".p13n-sc-price"),
		browser.CSS(".a-color-price"),
		browser.XPath("//span[contains(@class, 'p13n-sc-price')]"),
		browser.CSS(".zg-item-immersion .a-color-price"),
		browser.CSS(".a-price .a-offscreen"),
	)

	listingLinks = locator.Of(
		browser.CSS("a.a-link-normal.aok-block"),
		browser.CSS("a.a-link-normal"),
		browser.CSS(".zg-item-immersion a"),
		browser.CSS(".a-link-normal[title]"),
		browser.XPath("//a[contains(@class, 'a-link-normal') and contains(@href, '/dp/')]"),
	)

	detailPrices = locator.Of(
		browser.CSS("span.a-offscreen"),
		browser.CSS("span.a-price span.a-offscreen"),
		browser.CSS("#price_inside_buybox"),
		browser.CSS("#priceblock_ourprice"),
		browser.CSS(".a-price .a-offscreen"),
	)

	detailNames = locator.Of(
		browser.CSS("#productTitle"),
		browser.CSS(".product-title-word-break"),
		browser.CSS(".a-size-large.product-title-word-break"),
	)

	captchaMarkers = locator.Of(
		browser.CSS("#captchacharacters"),
		browser.CSS("form[action*='Captcha']"),
		browser.CSS("form[action*='validateCaptcha']"),
	)
)
