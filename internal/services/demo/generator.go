// Package demo produces deterministic synthetic wholesale price data for
// local runs and tests.
package demo

import (
	"math"
	"math/rand"
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"AgroPulse/internal/domain/models"
)

var catalog = []struct {
	category string
	low      float64
	high     float64
	products []string
}{
	{"vegetables", 1.5, 8, []string{"Tomate", "Carotte", "Salade", "Chou", "Poivron", "Oignon", "Ail", "Courgette", "Aubergine", "Pomme de terre", "Haricot vert", "Poireau"}},
	{"fruits", 2, 12, []string{"Pomme", "Poire", "Orange", "Citron", "Fraise", "Cerise", "Pêche", "Banane", "Kiwi", "Raisin", "Melon", "Pastèque"}},
	{"meat", 8, 35, []string{"Bœuf", "Porc", "Veau", "Agneau", "Poulet", "Dinde", "Canard", "Lapin"}},
	{"dairy", 2.5, 15, []string{"Beurre", "Fromage", "Lait", "Yaourt", "Crème", "Œuf"}},
}

// Markets are the wholesale markets (MIN) prices are reported from.
var Markets = []string{
	"MIN de Rungis", "MIN de Paris", "MIN de Lyon", "MIN de Marseille",
	"MIN de Bordeaux", "MIN de Lille", "MIN de Toulouse", "MIN de Nantes",
	"MIN de Strasbourg", "MIN de Nice", "MIN de Perpignan", "MIN d'Avignon",
}

var origins = []string{"France", "Espagne", "Italie", "Maroc", "Belgique", "Pays-Bas", "Allemagne", "Portugal"}

type Options struct {
	Seed int64
	// Days of history ending at End, inclusive.
	Days int
	End  time.Time
	// Products caps the number of products; 0 keeps the whole catalog.
	Products int
	// MarketsPerProduct defaults to 3.
	MarketsPerProduct int
	// Volume attaches a traded-volume proxy that falls as price rises.
	Volume bool
	// SpikeRate is the probability of a one-day price spike.
	SpikeRate float64
}

func DefaultOptions(end time.Time) Options {
	return Options{Seed: 42, Days: 90, End: end, Products: 12, MarketsPerProduct: 4, SpikeRate: 0.01}
}

// Generate returns one observation per product, market and day. The same
// options always produce the same data.
func Generate(opts Options) []models.PriceObservation {
	if opts.Days <= 0 {
		opts.Days = 90
	}
	if opts.MarketsPerProduct <= 0 {
		opts.MarketsPerProduct = 3
	}
	if opts.MarketsPerProduct > len(Markets) {
		opts.MarketsPerProduct = len(Markets)
	}
	end := models.DayOf(opts.End)
	rng := rand.New(rand.NewSource(opts.Seed))

	type product struct {
		name, category string
		base           float64
	}
	var products []product
	for _, c := range catalog {
		for _, p := range c.products {
			products = append(products, product{
				name:     p,
				category: c.category,
				base:     c.low + rng.Float64()*(c.high-c.low),
			})
		}
	}
	if opts.Products > 0 && opts.Products < len(products) {
		rng.Shuffle(len(products), func(i, j int) { products[i], products[j] = products[j], products[i] })
		products = products[:opts.Products]
		sort.Slice(products, func(i, j int) bool { return products[i].name < products[j].name })
	}

	out := make([]models.PriceObservation, 0, len(products)*opts.MarketsPerProduct*opts.Days)
	for _, p := range products {
		markets := pick(rng, Markets, opts.MarketsPerProduct)
		drift := (rng.Float64() - 0.5) * 0.004
		for _, m := range markets {
			premium := 0.9 + rng.Float64()*0.2
			origin := origins[rng.Intn(len(origins))]
			for d := opts.Days - 1; d >= 0; d-- {
				day := end.AddDate(0, 0, -d)
				t := float64(opts.Days - 1 - d)
				price := p.base * premium * seasonal(p.category, day) * (1 + drift*t) * (0.95 + rng.Float64()*0.1)
				if opts.SpikeRate > 0 && rng.Float64() < opts.SpikeRate {
					price *= 1.6
				}
				price = math.Max(price, 0.05)
				o := models.PriceObservation{
					Product: p.name,
					Market:  m,
					Origin:  origin,
					Date:    day,
					Price:   decimal.NewFromFloat(price).Round(2),
					Unit:    "kg",
				}
				if opts.Volume {
					vol := 1000 * math.Pow(premium, -1.2) * (0.9 + rng.Float64()*0.2)
					o.Volume = decimal.NewNullDecimal(decimal.NewFromFloat(vol).Round(0))
				}
				out = append(out, o)
			}
		}
	}
	return out
}

func seasonal(category string, day time.Time) float64 {
	if category != "fruits" {
		return 1 + 0.03*math.Sin(2*math.Pi*float64(day.YearDay())/365)
	}
	switch day.Month() {
	case time.June, time.July, time.August:
		return 0.9
	case time.December, time.January, time.February:
		return 1.3
	default:
		return 1
	}
}

func pick(rng *rand.Rand, from []string, n int) []string {
	idx := rng.Perm(len(from))[:n]
	sort.Ints(idx)
	out := make([]string, n)
	for i, j := range idx {
		out[i] = from[j]
	}
	return out
}
