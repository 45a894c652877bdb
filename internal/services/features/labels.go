package features

import (
	"strings"
	"time"
	"unicode"
)

// Season returns the meteorological season of the northern hemisphere.
func Season(m time.Month) string {
	switch m {
	case time.December, time.January, time.February:
		return "winter"
	case time.March, time.April, time.May:
		return "spring"
	case time.June, time.July, time.August:
		return "summer"
	default:
		return "autumn"
	}
}

var categoryKeywords = []struct {
	category string
	keywords []string
}{
	{"vegetables", []string{"tomate", "tomato", "carotte", "carrot", "salade", "laitue", "lettuce", "chou", "cabbage", "poivr", "pepper", "oignon", "onion", "ail", "garlic", "courgette", "aubergine", "eggplant", "pomme de terre", "potato", "haricot", "bean", "poireau", "leek"}},
	{"fruits", []string{"pomme", "apple", "poire", "pear", "orange", "citron", "lemon", "fraise", "strawberr", "cerise", "cherr", "pêche", "peach", "banane", "banana", "kiwi", "raisin", "grape", "melon", "pastèque"}},
	{"meat", []string{"bœuf", "boeuf", "beef", "porc", "pork", "veau", "veal", "agneau", "lamb", "poulet", "chicken", "dinde", "turkey", "canard", "duck", "lapin", "volaille"}},
	{"dairy", []string{"beurre", "butter", "fromage", "cheese", "œuf", "oeuf", "egg", "lait", "milk", "yaourt", "yogurt", "crème", "cream"}},
	{"fish", []string{"poisson", "fish", "saumon", "salmon", "thon", "tuna", "cabillaud", "cod", "crevette", "shrimp", "moule", "mussel"}},
}

// Category classifies a product name by keyword. Single-word keywords match
// word prefixes ("tomates" is a tomato, "volaille" is not garlic); multi-word
// keywords match anywhere. Categories are tried in order.
func Category(product string) string {
	name := strings.ToLower(product)
	words := strings.FieldsFunc(name, func(r rune) bool { return !unicode.IsLetter(r) })
	for _, c := range categoryKeywords {
		for _, kw := range c.keywords {
			if strings.Contains(kw, " ") {
				if strings.Contains(name, kw) {
					return c.category
				}
				continue
			}
			for _, w := range words {
				if strings.HasPrefix(w, kw) {
					return c.category
				}
			}
		}
	}
	return "other"
}

// PriceCategory bins a unit price.
func PriceCategory(price float64) string {
	switch {
	case price < 2:
		return "<2"
	case price < 5:
		return "2-5"
	case price < 10:
		return "5-10"
	case price < 20:
		return "10-20"
	default:
		return ">20"
	}
}
