package checkout

// Pricing in cents. The base package is the recurring subscription price;
// add-ons are one-time charges attached to the first invoice.
const (
	BaseAmount   int64 = 3500
	AddOnAmount  int64 = 7500
	BaseCurrency       = "eur"
)

// AddOn is one purchasable language add-on.
type AddOn struct {
	Code string
	Name string
}

var addOnCatalog = map[string]AddOn{
	"bg": {"bg", "Bulgarian"},
	"cs": {"cs", "Czech"},
	"da": {"da", "Danish"},
	"de": {"de", "German"},
	"el": {"el", "Greek"},
	"es": {"es", "Spanish"},
	"et": {"et", "Estonian"},
	"fi": {"fi", "Finnish"},
	"fr": {"fr", "French"},
	"hr": {"hr", "Croatian"},
	"hu": {"hu", "Hungarian"},
	"it": {"it", "Italian"},
	"lt": {"lt", "Lithuanian"},
	"lv": {"lv", "Latvian"},
	"nl": {"nl", "Dutch"},
	"no": {"no", "Norwegian"},
	"pl": {"pl", "Polish"},
	"pt": {"pt", "Portuguese"},
	"ro": {"ro", "Romanian"},
	"sk": {"sk", "Slovak"},
	"sl": {"sl", "Slovenian"},
	"sv": {"sv", "Swedish"},
}

// LookupAddOn returns the catalog entry for a code.
func LookupAddOn(code string) (AddOn, bool) {
	a, ok := addOnCatalog[code]
	return a, ok
}

// InvalidAddOnCodes returns the codes with no catalog entry, preserving order.
func InvalidAddOnCodes(codes []string) []string {
	var invalid []string
	for _, code := range codes {
		if _, ok := addOnCatalog[code]; !ok {
			invalid = append(invalid, code)
		}
	}
	return invalid
}
