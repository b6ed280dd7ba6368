package searchprovider

import (
	"strings"

	"github.com/scoutwatch/scoutd/pkg/models"
)

// locationParam is the wire shape sent to the provider for a non-empty
// location: the city as given, with a default country appended when the
// caller didn't already qualify it, plus the ISO country code.
type locationParam struct {
	City        string
	CountryCode string
}

// resolveLocation applies the "no comma means append the default country"
// rule. A location with IsAny() true yields nil — no geo bias is sent.
func resolveLocation(loc models.Location, defaultCountry string) *locationParam {
	if loc.IsAny() {
		return nil
	}
	city := loc.City
	if !strings.Contains(city, ",") {
		city = city + ", " + defaultCountry
	}
	return &locationParam{City: city, CountryCode: strings.ToUpper(countryCode(defaultCountry))}
}

// countryCode maps a small set of known country names to lowercase ISO
// codes, falling back to the input unchanged (already-a-code inputs pass
// through); resolveLocation uppercases the result.
func countryCode(country string) string {
	switch strings.ToLower(country) {
	case "us", "united states":
		return "us"
	case "uk", "united kingdom":
		return "gb"
	case "canada":
		return "ca"
	default:
		return country
	}
}
