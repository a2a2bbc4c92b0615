// internal/compat/zodiac.go

package compat

import "strings"

type element int

const (
	unknownElement element = iota
	fire
	earth
	air
	water
)

var signElements = map[string]element{
	"aries": fire, "leo": fire, "sagittarius": fire,
	"taurus": earth, "virgo": earth, "capricorn": earth,
	"gemini": air, "libra": air, "aquarius": air,
	"cancer": water, "scorpio": water, "pisces": water,
}

func elementOf(sign string) element {
	return signElements[strings.ToLower(strings.TrimSpace(sign))]
}

// ZodiacScore rates two signs by element: same or reinforcing elements (fire/air,
// earth/water) score 1.0, opposing ones (fire/earth, air/water) 0.3, the rest 0.5.
// Unknown signs are neutral.
func ZodiacScore(a, b string) float64 {
	ea, eb := elementOf(a), elementOf(b)
	if ea == unknownElement || eb == unknownElement {
		return neutralScore
	}
	if ea > eb {
		ea, eb = eb, ea
	}

	switch {
	case ea == eb:
		return 1.0
	case ea == fire && eb == air, ea == earth && eb == water:
		return 1.0
	case ea == fire && eb == earth, ea == air && eb == water:
		return 0.3
	default:
		return neutralScore
	}
}
