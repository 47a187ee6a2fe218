package copywriter

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/voxelpromo/voxelpromo/internal/offer"
)

// Fallback copy used when no template is stored.
const builtinTemplate = "🔥 {title}\n\n💰 Por apenas R$ {price}{discount_line}\n\n👉 {link}"

// TemplateRenderer implements offer.Copywriter from stored message
// templates with placeholder substitution.
type TemplateRenderer struct {
	store offer.TemplateStore
}

// NewTemplateRenderer builds a TemplateRenderer. A nil store always renders
// the builtin template.
func NewTemplateRenderer(store offer.TemplateStore) *TemplateRenderer {
	return &TemplateRenderer{store: store}
}

// Compose renders the default template for the offer.
func (r *TemplateRenderer) Compose(ctx context.Context, o offer.Offer, link string) (string, error) {
	body := builtinTemplate
	if r.store != nil {
		tpl, err := r.store.GetDefault(ctx)
		switch {
		case err == nil:
			body = tpl.Body
		case errors.Is(err, offer.ErrNotFound):
		default:
			return "", fmt.Errorf("load default template: %w", err)
		}
	}
	return Render(body, o, link), nil
}

// Render substitutes offer placeholders into a template body.
// Supported placeholders: {title}, {price}, {original_price}, {discount},
// {discount_line}, {source}, {link}.
func Render(body string, o offer.Offer, link string) string {
	discountLine := ""
	if o.DiscountPct > 0 {
		discountLine = fmt.Sprintf(" (%.0f%% OFF, de R$ %.2f)", o.DiscountPct, o.OriginalPrice)
	}
	replacer := strings.NewReplacer(
		"{title}", o.Title,
		"{price}", fmt.Sprintf("%.2f", o.CurrentPrice),
		"{original_price}", fmt.Sprintf("%.2f", o.OriginalPrice),
		"{discount}", fmt.Sprintf("%.0f%%", o.DiscountPct),
		"{discount_line}", discountLine,
		"{source}", string(o.Source),
		"{link}", link,
	)
	return strings.TrimSpace(replacer.Replace(body))
}

// Chain tries each copywriter in order, falling back on failure. The last
// error is returned only when every writer fails.
type Chain struct {
	writers []offer.Copywriter
}

// NewChain builds a Chain. Nil writers are skipped.
func NewChain(writers ...offer.Copywriter) *Chain {
	kept := make([]offer.Copywriter, 0, len(writers))
	for _, w := range writers {
		if w != nil {
			kept = append(kept, w)
		}
	}
	return &Chain{writers: kept}
}

// Compose runs the chain.
func (c *Chain) Compose(ctx context.Context, o offer.Offer, link string) (string, error) {
	if len(c.writers) == 0 {
		return "", fmt.Errorf("no copywriters configured")
	}
	var lastErr error
	for _, w := range c.writers {
		text, err := w.Compose(ctx, o, link)
		if err == nil {
			return text, nil
		}
		lastErr = err
	}
	return "", fmt.Errorf("all copywriters failed: %w", lastErr)
}
