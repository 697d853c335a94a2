package session

import (
	"context"
	"fmt"

	"github.com/go-rod/rod"

	"github.com/Rorqualx/darkmode-go/internal/browser"
	"github.com/Rorqualx/darkmode-go/internal/device"
	"github.com/Rorqualx/darkmode-go/internal/dom"
)

// BrowserOpener opens each session as a tab of one browser.
type BrowserOpener struct {
	Browser *browser.Browser
}

// Open implements Opener.
func (o BrowserOpener) Open(ctx context.Context, url string, em browser.Emulation) (Page, error) {
	page, err := o.Browser.OpenPage(ctx, url, em)
	if err != nil {
		return nil, err
	}
	doc, err := browser.Attach(ctx, page)
	if err != nil {
		o.Browser.ClosePage(page)
		return nil, fmt.Errorf("attach page: %w", err)
	}
	return &tab{
		browser: o.Browser,
		page:    page,
		doc:     doc,
		probe:   browser.NewPageProbe(page),
	}, nil
}

// Pages returns the browser's open page count.
func (o BrowserOpener) Pages() int {
	return o.Browser.Pages()
}

type tab struct {
	browser *browser.Browser
	page    *rod.Page
	doc     *browser.PageDocument
	probe   browser.PageProbe
}

func (t *tab) Document() dom.Document { return t.doc }

func (t *tab) Probe() device.Probe { return t.probe }

func (t *tab) OnNavigate(fn func(url string)) func() { return t.doc.OnNavigate(fn) }

func (t *tab) Close() error {
	t.doc.Close()
	t.browser.ClosePage(t.page)
	return nil
}
