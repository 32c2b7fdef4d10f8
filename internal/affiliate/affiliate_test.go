package affiliate

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/maltedev/bestseller-affiliator/internal/browser"
	"github.com/maltedev/bestseller-affiliator/internal/browser/browsertest"
	"github.com/maltedev/bestseller-affiliator/internal/diagnostics"
	"github.com/maltedev/bestseller-affiliator/internal/ratelimit"
)

const productURL = "https://www.amazon.com.br/Livro/dp/B0ABCDEF12"

type recordingSink struct {
	labels []string
}

func (r *recordingSink) Capture(_ context.Context, _ diagnostics.Capturer, label string) {
	r.labels = append(r.labels, label)
}

func newGenerator(s *browsertest.Session) (*Generator, *recordingSink) {
	sink := &recordingSink{}
	opts := DefaultOptions()
	opts.WaitTimeout = time.Second
	opts.Pacer = ratelimit.NopPacer{}
	opts.Diagnostics = sink
	return NewGenerator(s, opts, nil), sink
}

func toolbar(button string) string {
	return `<html><body><div id="amzn-ss-wrap" class="amzn-ss-wrap">` + button + `</div><span id="productTitle">Livro</span></body></html>`
}

func withPopover(field string) browsertest.Action {
	return func(s *browsertest.Session) {
		s.Show(`<html><body><div class="a-popover">` + field + `</div></body></html>`)
	}
}

func TestGenerateAffiliateLink(t *testing.T) {
	tests := []struct {
		name    string
		button  string
		trigger browser.Locator
		field   string
		want    string
	}{
		{
			name:    "primary button and textarea text",
			button:  `<button id="amzn-ss-get-link-button">Texto</button>`,
			trigger: browser.ID("amzn-ss-get-link-button"),
			field:   `<textarea id="amzn-ss-text-shortlink-textarea">https://amzn.to/3AbCdEf</textarea>`,
			want:    "https://amzn.to/3AbCdEf",
		},
		{
			name:    "localized span and value attribute",
			button:  `<a><span>Obtenha o link</span></a>`,
			trigger: browser.XPath("//span[contains(text(), 'Obtenha o link')]"),
			field:   `<input class="amzn-ss-text-shortlink-textarea" value=" https://amzn.to/4XyZ ">`,
			want:    "https://amzn.to/4XyZ",
		},
		{
			name:    "xpath readback",
			button:  `<button>Get</button>`,
			trigger: browser.CSS(".amzn-ss-wrap button"),
			field:   `<textarea id="ss-shortlink-box">https://amzn.to/xp</textarea>`,
			want:    "https://amzn.to/xp",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := browsertest.New()
			s.SetPage(productURL, toolbar(tt.button))
			s.OnClick(tt.trigger, withPopover(tt.field))
			g, sink := newGenerator(s)

			link, ok := g.GenerateAffiliateLink(context.Background(), productURL)
			require.True(t, ok)
			assert.Equal(t, tt.want, link)
			assert.Empty(t, sink.labels)
		})
	}
}

func TestGenerateAffiliateLinkSkipsDisabledButton(t *testing.T) {
	s := browsertest.New()
	s.SetPage(productURL, toolbar(`<button id="amzn-ss-get-link-button" disabled>Texto</button><span>Get link</span>`))
	s.OnClick(browser.XPath("//span[contains(text(), 'Get link')]"),
		withPopover(`<textarea id="amzn-ss-text-shortlink-textarea">https://amzn.to/ok</textarea>`))
	g, _ := newGenerator(s)

	link, ok := g.GenerateAffiliateLink(context.Background(), productURL)
	require.True(t, ok)
	assert.Equal(t, "https://amzn.to/ok", link)
}

func TestGenerateAffiliateLinkNoButton(t *testing.T) {
	s := browsertest.New()
	s.SetPage(productURL, `<html><body><span id="productTitle">Livro</span></body></html>`)
	g, sink := newGenerator(s)

	link, ok := g.GenerateAffiliateLink(context.Background(), productURL)
	assert.False(t, ok)
	assert.Empty(t, link)
	assert.Equal(t, []string{"affiliate_button_error_B0ABCDEF12"}, sink.labels)
}

func TestGenerateAffiliateLinkNoLink(t *testing.T) {
	s := browsertest.New()
	s.SetPage(productURL, toolbar(`<button id="amzn-ss-get-link-button">Texto</button>`))
	s.OnClick(browser.ID("amzn-ss-get-link-button"),
		withPopover(`<textarea id="amzn-ss-text-shortlink-textarea"></textarea>`))
	g, sink := newGenerator(s)

	_, ok := g.GenerateAffiliateLink(context.Background(), productURL)
	assert.False(t, ok)
	assert.Equal(t, []string{"affiliate_link_error_B0ABCDEF12"}, sink.labels)
}

func TestGenerateAffiliateLinkNavigationFailure(t *testing.T) {
	s := browsertest.New()
	s.FailNavigation(productURL, errors.New("net::ERR_ABORTED"))
	g, sink := newGenerator(s)

	_, ok := g.GenerateAffiliateLink(context.Background(), productURL)
	assert.False(t, ok)
	assert.Empty(t, sink.labels)
}
