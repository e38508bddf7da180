package notify

import (
	"strings"

	"github.com/shopspring/decimal"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
	"golang.org/x/text/message/catalog"
	"golang.org/x/text/number"
)

// supportedLanguages lists the languages with a message catalog. English is the source
// language, so its strings are the catalog keys.
var supportedLanguages = []language.Tag{language.English, language.Telugu}

var languageMatcher = language.NewMatcher(supportedLanguages)

var messages = catalog.NewBuilder(catalog.Fallback(language.English))

// telugu maps every message key to its Telugu text.
var telugu = map[string]string{
	"*Milk Collection Receipt*\n": "*పాలు సేకరణ రసీదు*\n",
	"Date: %s":                    "తేదీ: %s",
	" (%s)":                       " (%s)",
	"Supplier: %s [%s]\n":         "సరఫరాదారు: %s [%s]\n",
	"%s L":                        "%s లీ",
	" @ %s%% fat":                 " @ %s%% కొవ్వు",
	", %s":                        ", %s",
	"Rate: Rs %s/L\n":             "ధర: ₹%s/లీ\n",
	"Amount: Rs %s\n":             "మొత్తం: ₹%s\n",
	"Balance: Rs %s":              "బ్యాలెన్స్: ₹%s",

	"morning": "ఉదయం",
	"evening": "సాయంత్రం",
	"cow":     "ఆవు",
	"buffalo": "గేదె",

	"*Daily Milk Collection Summary*\n":   "*దైనందిన పాలు సేకరణ సారాంశం*\n",
	"*Monthly Milk Collection Summary*\n": "*నెలవారీ పాలు సేకరణ సారాంశం*\n",
	"Date: %s\n":                          "తేదీ: %s\n",
	"Month: %s %s\n":                      "నెల: %s %s\n",
	"*%s session*\n":                      "*%s సెషన్*\n",
	"*%s session*: no collection\n":       "*%s సెషన్*: పాలు సేకరణ లేదు\n",
	"  %s = Rs %s\n":                      "  %s = ₹%s\n",
	"  Total: %s L = Rs %s\n":             "  మొత్తం: %s లీ = ₹%s\n",
	"*Today's total*\n":                   "*నేటి మొత్తం*\n",
	"*Monthly totals*\n":                  "*నెలవారీ మొత్తాలు*\n",
	"  Days: %d\n":                        "  రోజులు: %d\n",
	"  Milk: %s L\n":                      "  పాలు: %s లీ\n",
	"  Amount: Rs %s\n":                   "  మొత్తం: ₹%s\n",
	"  Paid: Rs %s\n":                     "  చెల్లించినవి: ₹%s\n",
	"    %s milk: Rs %s\n":                "    %s పాలు: ₹%s\n",
	"*Payment cycles*\n":                  "*చెల్లింపు చక్రాలు*\n",
	"  1st - 15th: Rs %s\n":               "  1వ - 15వ తేదీ: ₹%s\n",
	"  16th - month end: Rs %s\n":         "  16వ - నెల ముగింపు: ₹%s\n",
	"*Balance*: Rs %s":                    "*బ్యాలెన్స్*: ₹%s",

	"January":   "జనవరి",
	"February":  "ఫిబ్రవరి",
	"March":     "మార్చి",
	"April":     "ఏప్రిల్",
	"May":       "మే",
	"June":      "జూన్",
	"July":      "జూలై",
	"August":    "ఆగస్టు",
	"September": "సెప్టెంబర్",
	"October":   "అక్టోబర్",
	"November":  "నవంబర్",
	"December":  "డిసెంబర్",
}

func init() {
	for key, msg := range telugu {
		if err := messages.SetString(language.Telugu, key, msg); err != nil {
			panic("notify: register telugu message " + key + ": " + err.Error())
		}
	}
}

// Renderer formats notification payloads into message text.
type Renderer struct {
	printer *message.Printer
}

// NewRenderer returns a renderer for the given BCP 47 tag, matched against the languages
// with a catalog. Unknown or unsupported tags fall back to English.
func NewRenderer(tag string) Renderer {
	lang := language.English
	if parsed, err := language.Parse(tag); err == nil {
		if _, idx, conf := languageMatcher.Match(parsed); conf != language.No {
			lang = supportedLanguages[idx]
		}
	}
	return Renderer{printer: message.NewPrinter(lang, message.Catalog(messages))}
}

func (r Renderer) p() *message.Printer {
	if r.printer == nil {
		return message.NewPrinter(language.English, message.Catalog(messages))
	}
	return r.printer
}

func (r Renderer) amount(v decimal.Decimal) string {
	return r.p().Sprint(number.Decimal(v.InexactFloat64(), number.Scale(2)))
}

// word translates a lower-cased enum value such as a session or milk type. Values without
// a catalog entry are printed as given.
func (r Renderer) word(v string) string {
	return r.p().Sprintf(strings.ToLower(v))
}

// Collection renders the supplier confirmation for one collection.
func (r Renderer) Collection(p CollectionPayload) string {
	pr := r.p()
	var b strings.Builder
	b.WriteString(pr.Sprintf("*Milk Collection Receipt*\n"))
	b.WriteString(pr.Sprintf("Date: %s", p.Date))
	if p.Session != "" {
		b.WriteString(pr.Sprintf(" (%s)", r.word(p.Session)))
	}
	b.WriteString("\n")
	b.WriteString(pr.Sprintf("Supplier: %s [%s]\n", p.PartyName, p.PartyCode))
	b.WriteString(r.milkLine(p.Quantity, p.Fat, p.MilkType) + "\n")
	b.WriteString(pr.Sprintf("Rate: Rs %s/L\n", r.amount(p.Rate)))
	b.WriteString(pr.Sprintf("Amount: Rs %s\n", r.amount(p.Amount)))
	b.WriteString(pr.Sprintf("Balance: Rs %s", r.amount(p.Balance)))
	return b.String()
}

func (r Renderer) milkLine(qty decimal.Decimal, fat decimal.NullDecimal, milkType string) string {
	pr := r.p()
	line := pr.Sprintf("%s L", r.amount(qty))
	if fat.Valid {
		line += pr.Sprintf(" @ %s%% fat", fat.Decimal.StringFixed(1))
	}
	if milkType != "" {
		line += pr.Sprintf(", %s", r.word(milkType))
	}
	return line
}

// DailySummary renders one supplier's collections of a day, split by session.
func (r Renderer) DailySummary(p SummaryPayload) string {
	pr := r.p()
	var b strings.Builder
	b.WriteString(pr.Sprintf("*Daily Milk Collection Summary*\n"))
	b.WriteString(pr.Sprintf("Date: %s\n", p.Date.Format("2006-01-02")))
	b.WriteString(pr.Sprintf("Supplier: %s [%s]\n", p.PartyName, p.PartyCode))

	for _, session := range []string{"MORNING", "EVENING"} {
		b.WriteString("\n")
		qty, amount := decimal.Zero, decimal.Zero
		n := 0
		for _, line := range p.Lines {
			if !strings.EqualFold(line.Session, session) {
				continue
			}
			if n == 0 {
				b.WriteString(pr.Sprintf("*%s session*\n", r.word(session)))
			}
			n++
			b.WriteString(pr.Sprintf("  %s = Rs %s\n", r.milkLine(line.Quantity, line.Fat, line.MilkType), r.amount(line.Amount)))
			qty = qty.Add(line.Quantity)
			amount = amount.Add(line.Amount)
		}
		if n == 0 {
			b.WriteString(pr.Sprintf("*%s session*: no collection\n", r.word(session)))
			continue
		}
		b.WriteString(pr.Sprintf("  Total: %s L = Rs %s\n", r.amount(qty), r.amount(amount)))
	}

	b.WriteString("\n")
	b.WriteString(pr.Sprintf("*Today's total*\n"))
	b.WriteString(pr.Sprintf("  Milk: %s L\n", r.amount(p.Quantity)))
	b.WriteString(pr.Sprintf("  Amount: Rs %s\n", r.amount(p.Amount)))
	if p.Paid.IsPositive() {
		b.WriteString(pr.Sprintf("  Paid: Rs %s\n", r.amount(p.Paid)))
	}
	b.WriteString("\n")
	b.WriteString(pr.Sprintf("*Balance*: Rs %s", r.amount(p.Balance)))
	return b.String()
}

// MonthlySummary renders one supplier's month with the milk type and payment cycle split.
func (r Renderer) MonthlySummary(p SummaryPayload) string {
	pr := r.p()
	var b strings.Builder
	b.WriteString(pr.Sprintf("*Monthly Milk Collection Summary*\n"))
	// The year is preformatted so the printer does not group its digits.
	b.WriteString(pr.Sprintf("Month: %s %s\n", pr.Sprintf(p.Date.Month().String()), p.Date.Format("2006")))
	b.WriteString(pr.Sprintf("Supplier: %s [%s]\n", p.PartyName, p.PartyCode))

	b.WriteString("\n")
	b.WriteString(pr.Sprintf("*Monthly totals*\n"))
	b.WriteString(pr.Sprintf("  Days: %d\n", p.Days))
	b.WriteString(pr.Sprintf("  Milk: %s L\n", r.amount(p.Quantity)))
	b.WriteString(pr.Sprintf("  Amount: Rs %s\n", r.amount(p.Amount)))
	if p.Buffalo.IsPositive() {
		b.WriteString(pr.Sprintf("    %s milk: Rs %s\n", r.word("buffalo"), r.amount(p.Buffalo)))
	}
	if p.Cow.IsPositive() {
		b.WriteString(pr.Sprintf("    %s milk: Rs %s\n", r.word("cow"), r.amount(p.Cow)))
	}
	if p.Paid.IsPositive() {
		b.WriteString(pr.Sprintf("  Paid: Rs %s\n", r.amount(p.Paid)))
	}

	b.WriteString("\n")
	b.WriteString(pr.Sprintf("*Payment cycles*\n"))
	b.WriteString(pr.Sprintf("  1st - 15th: Rs %s\n", r.amount(p.FirstCycle)))
	b.WriteString(pr.Sprintf("  16th - month end: Rs %s\n", r.amount(p.SecondCycle)))

	b.WriteString("\n")
	b.WriteString(pr.Sprintf("*Balance*: Rs %s", r.amount(p.Balance)))
	return b.String()
}

// Summary renders p by its scope.
func (r Renderer) Summary(p SummaryPayload) string {
	if p.Scope == SummaryMonthly {
		return r.MonthlySummary(p)
	}
	return r.DailySummary(p)
}
