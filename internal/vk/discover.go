package vk

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/krivcovaanna86-netizen/vk-viewer-pro-sub000/api/schemas"
)

// ErrFieldNotFound is returned when no discovery strategy located the
// requested form field on the current page.
var ErrFieldNotFound = errors.New("form field not found")

// firstVisible returns the first selector from candidates that matches a
// visible element, or "" when none do.
func firstVisible(ctx context.Context, page schemas.PageDriver, candidates ...string) (string, error) {
	for _, sel := range candidates {
		ok, err := page.FindVisible(ctx, sel)
		if err != nil {
			return "", err
		}
		if ok {
			return sel, nil
		}
	}
	return "", nil
}

// snapshotDocument parses the live DOM into a goquery document.
func snapshotDocument(ctx context.Context, page schemas.PageDriver) (*goquery.Document, error) {
	var html string
	if err := page.Evaluate(ctx, "document.documentElement.outerHTML", &html); err != nil {
		return nil, fmt.Errorf("failed to snapshot page: %w", err)
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, fmt.Errorf("failed to parse page snapshot: %w", err)
	}
	return doc, nil
}

// discoverInput scans the page snapshot for an input whose attributes match
// any of the hints and builds a selector for it. This is the fallback when
// none of the known selectors match; the page markup shifts between
// rollouts but attribute vocabulary is sticky.
func discoverInput(ctx context.Context, page schemas.PageDriver, hints ...string) (string, error) {
	doc, err := snapshotDocument(ctx, page)
	if err != nil {
		return "", err
	}

	var selector string
	doc.Find("input").EachWithBreak(func(_ int, s *goquery.Selection) bool {
		attrs := strings.ToLower(strings.Join([]string{
			s.AttrOr("name", ""),
			s.AttrOr("type", ""),
			s.AttrOr("id", ""),
			s.AttrOr("placeholder", ""),
			s.AttrOr("autocomplete", ""),
		}, " "))
		for _, hint := range hints {
			if strings.Contains(attrs, hint) {
				if name, ok := s.Attr("name"); ok && name != "" {
					selector = fmt.Sprintf("input[name=%q]", name)
				} else if id, ok := s.Attr("id"); ok && id != "" {
					selector = "#" + id
				}
				return selector == ""
			}
		}
		return true
	})

	if selector == "" {
		return "", fmt.Errorf("%w: no input matching %v", ErrFieldNotFound, hints)
	}
	return selector, nil
}

// clickByText clicks the first button-like element whose text contains any
// of the given fragments, searching inside open dialogs first so blocking
// overlays get handled before the page beneath them.
func clickByText(ctx context.Context, page schemas.PageDriver, fragments ...string) (bool, error) {
	quoted := make([]string, len(fragments))
	for i, f := range fragments {
		quoted[i] = fmt.Sprintf("%q", strings.ToLower(f))
	}
	script := fmt.Sprintf(`(function() {
		const wanted = [%s];
		const scopes = [...document.querySelectorAll('[role="dialog"], .popup, .modal')];
		scopes.push(document);
		for (const scope of scopes) {
			const els = scope.querySelectorAll('button, a, [role="button"], input[type="submit"], input[type="button"]');
			for (const el of els) {
				const text = (el.textContent || el.value || '').trim().toLowerCase();
				if (!text) continue;
				const r = el.getBoundingClientRect();
				if (r.width === 0 || r.height === 0) continue;
				if (wanted.some(w => text.includes(w))) {
					el.click();
					return true;
				}
			}
		}
		return false;
	})()`, strings.Join(quoted, ", "))

	var clicked bool
	if err := page.Evaluate(ctx, script, &clicked); err != nil {
		return false, err
	}
	return clicked, nil
}

// visibleText extracts the text of the first matching element from the
// snapshot, used to pull error banners without guessing at exact markup.
func visibleText(ctx context.Context, page schemas.PageDriver, selectors ...string) (string, error) {
	doc, err := snapshotDocument(ctx, page)
	if err != nil {
		return "", err
	}
	for _, sel := range selectors {
		if text := strings.TrimSpace(doc.Find(sel).First().Text()); text != "" {
			return text, nil
		}
	}
	return "", nil
}

// bodyContainsAny reports whether the page body text contains any fragment,
// case-insensitively.
func bodyContainsAny(ctx context.Context, page schemas.PageDriver, fragments ...string) (bool, error) {
	var body string
	if err := page.Evaluate(ctx, "document.body ? document.body.innerText : ''", &body); err != nil {
		return false, err
	}
	body = strings.ToLower(body)
	for _, f := range fragments {
		if strings.Contains(body, strings.ToLower(f)) {
			return true, nil
		}
	}
	return false, nil
}
