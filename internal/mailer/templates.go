package mailer

import (
	"fmt"
	"sync"

	"github.com/osteele/liquid"

	"github.com/nichepass/nichepass/internal/domain"
)

// Default campaign templates. Merchants cannot customize these yet;
// TODO: per-store template overrides once the dashboard editor ships.
const (
	defaultCampaignSubject = `{{ store_name }}: here's {{ discount }} off for you`

	defaultCampaignHTML = `<html><body>
<p>Hi {{ first_name | default: "there" }},</p>
<p>Thanks for being a member of {{ store_name }}. Here is your personal discount code:</p>
<p style="font-size:24px;font-weight:bold;letter-spacing:2px">{{ code }}</p>
<p>It's worth {{ discount }} off your next order and can be used once.</p>
</body></html>`

	defaultAutomationSubject = `A reward from {{ store_name }}`

	defaultAutomationHTML = `<html><body>
<p>Hi {{ first_name | default: "there" }},</p>
<p>{{ store_name }} just sent you a loyalty reward. Check your pass for details.</p>
{% if pass_url %}<p><a href="{{ pass_url }}">Open your pass</a></p>{% endif %}
</body></html>`
)

// TemplateEngine renders email templates with Liquid. Parsed templates are
// cached by source string.
type TemplateEngine struct {
	engine *liquid.Engine
	cache  sync.Map // map[string]*liquid.Template
}

// NewTemplateEngine creates an engine with the filters our templates use.
func NewTemplateEngine() *TemplateEngine {
	engine := liquid.NewEngine()

	// {{ first_name | default: "there" }}
	engine.RegisterFilter("default", func(value interface{}, defaultVal string) interface{} {
		if value == nil {
			return defaultVal
		}
		s := fmt.Sprintf("%v", value)
		if s == "" || s == "<nil>" {
			return defaultVal
		}
		return value
	})

	return &TemplateEngine{engine: engine}
}

// Render executes a Liquid template against the given bindings.
func (t *TemplateEngine) Render(source string, bindings map[string]interface{}) (string, error) {
	var tmpl *liquid.Template
	if cached, ok := t.cache.Load(source); ok {
		tmpl = cached.(*liquid.Template)
	} else {
		parsed, err := t.engine.ParseString(source)
		if err != nil {
			return "", fmt.Errorf("parse template: %w", err)
		}
		t.cache.Store(source, parsed)
		tmpl = parsed
	}

	out, err := tmpl.Render(bindings)
	if err != nil {
		return "", fmt.Errorf("render template: %w", err)
	}
	return string(out), nil
}

// CampaignBindings builds the variable set for a campaign email.
func CampaignBindings(storeName string, c *domain.Campaign, m *domain.Member, code string) map[string]interface{} {
	return map[string]interface{}{
		"store_name":    storeName,
		"first_name":    m.FirstName,
		"last_name":     m.LastName,
		"code":          code,
		"discount":      FormatDiscount(c.DiscountType, c.DiscountValue),
		"campaign_name": c.Name,
	}
}

// AutomationBindings builds the variable set for an automation email.
func AutomationBindings(storeName string, m *domain.Member) map[string]interface{} {
	b := map[string]interface{}{
		"store_name": storeName,
		"first_name": m.FirstName,
		"last_name":  m.LastName,
	}
	if m.PassURL != nil {
		b["pass_url"] = *m.PassURL
	}
	return b
}

// FormatDiscount renders a discount as merchant-facing text, e.g. "15%" or
// "$5.00".
func FormatDiscount(t domain.DiscountType, v float64) string {
	if t == domain.DiscountPercentage {
		return fmt.Sprintf("%g%%", v)
	}
	return fmt.Sprintf("$%.2f", v)
}
