package browser

import (
	"context"
	"fmt"
	"time"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/chromedp"
)

// Exchange dashboards rarely offer stable IDs; buttons are found by their
// visible label and inputs by placeholder text.

// ClickButton clicks the first button whose text contains the label
func (s *Session) ClickButton(label string) error {
	sel := fmt.Sprintf(`//button[contains(., %q)]`, label)
	return s.run(chromedp.Click(sel, chromedp.BySearch))
}

// ClickButtonWithin is ClickButton with a caller-bounded wait, used where a
// missing button is a signal rather than an error.
func (s *Session) ClickButtonWithin(label string, wait time.Duration) error {
	sel := fmt.Sprintf(`//button[contains(., %q)]`, label)
	ctx, cancel := context.WithTimeout(s.ctx, wait)
	defer cancel()
	return chromedp.Run(ctx, chromedp.Click(sel, chromedp.BySearch))
}

// ClickText clicks the first element with exactly the given text
func (s *Session) ClickText(text string) error {
	sel := fmt.Sprintf(`//*[normalize-space(text())=%q]`, text)
	return s.run(chromedp.Click(sel, chromedp.BySearch))
}

// FillPlaceholder fills the input identified by its placeholder text
func (s *Session) FillPlaceholder(placeholder, value string) error {
	return s.Fill(fmt.Sprintf(`input[placeholder=%q]`, placeholder), value)
}

// FillAll fills every node matching the selector with the corresponding
// value, in document order. Extra nodes are left untouched.
func (s *Session) FillAll(selector string, values []string) error {
	ctx, cancel := context.WithTimeout(s.ctx, s.timeout())
	defer cancel()

	var nodes []*cdp.Node
	if err := chromedp.Run(ctx,
		chromedp.WaitVisible(selector),
		chromedp.Nodes(selector, &nodes, chromedp.ByQueryAll),
	); err != nil {
		return fmt.Errorf("no nodes for %s: %w", selector, err)
	}

	for i, node := range nodes {
		if i >= len(values) {
			break
		}
		if err := chromedp.Run(ctx,
			chromedp.SendKeys([]cdp.NodeID{node.NodeID}, values[i], chromedp.ByNodeID),
		); err != nil {
			return fmt.Errorf("failed to fill node %d: %w", i, err)
		}
	}
	return nil
}

// CheckAll ticks every checkbox matching the selector
func (s *Session) CheckAll(selector string) error {
	ctx, cancel := context.WithTimeout(s.ctx, s.timeout())
	defer cancel()

	var nodes []*cdp.Node
	if err := chromedp.Run(ctx, chromedp.Nodes(selector, &nodes, chromedp.ByQueryAll)); err != nil {
		return fmt.Errorf("no checkboxes for %s: %w", selector, err)
	}

	for i, node := range nodes {
		var value string
		var checked bool
		if err := chromedp.Run(ctx,
			chromedp.AttributeValue([]cdp.NodeID{node.NodeID}, "checked", &value, &checked, chromedp.ByNodeID),
		); err == nil && checked {
			continue
		}
		if err := chromedp.Run(ctx, chromedp.Click([]cdp.NodeID{node.NodeID}, chromedp.ByNodeID)); err != nil {
			return fmt.Errorf("failed to check box %d: %w", i, err)
		}
	}
	return nil
}
