package chart

import (
	"regexp"
	"strings"
)

// vocabulary maps known measurement terms to display labels, checked in this
// fixed priority order so compound terms win over their substrings
// ("dissolved oxygen" before "oxygen").
var vocabulary = []struct {
	term  string
	label string
}{
	{"temperature", "Temperature"},
	{"conductivity", "Conductivity"},
	{"salinity", "Salinity"},
	{"pressure", "Pressure"},
	{"humidity", "Humidity"},
	{"ph", "pH"},
	{"dissolved oxygen", "Dissolved Oxygen"},
	{"carbon dioxide", "Carbon Dioxide"},
	{"methane", "Methane"},
	{"oxygen", "Oxygen"},
	{"hydrogen sulfide", "Hydrogen Sulfide"},
	{"nitrogen", "Nitrogen"},
	{"wind speed", "Wind Speed"},
	{"wind direction", "Wind Direction"},
	{"water level", "Water Level"},
}

// sensorCodePattern matches a leading station code like "GGS05_01".
var sensorCodePattern = regexp.MustCompile(`^[A-Z]{2,3}\d+_\d+\s*`)

// DisplayName derives a human-readable property label from a raw datastream
// name such as "GGS05_01 Carbon Dioxide". Known measurement vocabulary wins;
// otherwise a leading sensor-code token is stripped; otherwise the first word
// longer than 2 characters is used.
func DisplayName(rawName string) string {
	lower := strings.ToLower(rawName)
	for _, entry := range vocabulary {
		if strings.Contains(lower, entry.term) {
			return entry.label
		}
	}

	if sensorCodePattern.MatchString(rawName) {
		rest := strings.TrimSpace(sensorCodePattern.ReplaceAllString(rawName, ""))
		if rest != "" {
			return rest
		}
	}

	for _, word := range strings.Fields(rawName) {
		if len(word) > 2 {
			return word
		}
	}
	return rawName
}
