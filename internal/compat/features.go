// internal/compat/features.go
// Pairwise compatibility features shared by the rule-based scorer and the learned model

package compat

import (
	"errors"
	"math"
	"strings"

	"github.com/imadgeboyega/kiekky-matchmaking/internal/profile"
)

var (
	// ErrMissingLocation means at least one side has no usable coordinates
	ErrMissingLocation = errors.New("stale or missing location")
)

const (
	earthRadiusKm = 6371

	nearKm        = 5.0
	farKm         = 50.0
	farScore      = 0.3
	neutralScore  = 0.5
	ageWindow     = 10.0
	interestsFull = 3.0

	minAggregate = 0.3
	maxAggregate = 1.0
)

// Aggregate weights
const (
	weightDistance  = 0.25
	weightAge       = 0.20
	weightInterests = 0.25
	weightGender    = 0.10
	weightEducation = 0.10
	weightZodiac    = 0.10
)

// FeatureDim is the length of FeatureVector.Slice
const FeatureDim = 9

// FeatureVector holds the normalized sub-scores of a pair, each in [0, 1]
type FeatureVector struct {
	Distance        float64 `json:"distance" db:"distance_score"`
	Age             float64 `json:"age" db:"age_score"`
	InterestOverlap float64 `json:"interest_overlap" db:"interest_overlap"`
	Gender          float64 `json:"gender" db:"gender_score"`
	Education       float64 `json:"education" db:"education_score"`
	Zodiac          float64 `json:"zodiac" db:"zodiac_score"`
	InterestCosine  float64 `json:"interest_cosine" db:"interest_cosine"`
	InterestRatio   float64 `json:"interest_ratio" db:"interest_ratio"`
	Bio             float64 `json:"bio" db:"bio_score"`

	Aggregate     float64 `json:"aggregate" db:"aggregate_score"`
	DistanceKnown bool    `json:"distance_known" db:"distance_known"`
}

// Slice returns the model input ordering:
// distance, age, interest overlap, gender, education, zodiac, interest cosine, interest ratio, bio
func (f FeatureVector) Slice() []float64 {
	return []float64{
		f.Distance,
		f.Age,
		f.InterestOverlap,
		f.Gender,
		f.Education,
		f.Zodiac,
		f.InterestCosine,
		f.InterestRatio,
		f.Bio,
	}
}

// Extract computes every feature of the pair. It never fails: missing data
// degrades to the neutral value of the affected feature.
func Extract(a, b *profile.UserProfile) FeatureVector {
	ia, ib := normalizeInterests(a.Interests), normalizeInterests(b.Interests)

	f := FeatureVector{
		Age:             AgeScore(a.Age, b.Age),
		InterestOverlap: overlapScore(ia, ib),
		Gender:          GenderScore(a, b),
		Education:       EducationScore(a.Education, b.Education),
		Zodiac:          ZodiacScore(a.ZodiacSign, b.ZodiacSign),
		Bio:             BioSimilarity(a.Bio, b.Bio),
	}
	f.InterestCosine, f.InterestRatio = interestSimilarity(ia, ib)

	km, err := DistanceKm(a, b)
	if err != nil {
		f.Distance = neutralScore
	} else {
		f.Distance = DistanceScore(km)
		f.DistanceKnown = true
	}

	f.Aggregate = aggregate(f)
	return f
}

func aggregate(f FeatureVector) float64 {
	total := f.Distance*weightDistance +
		f.Age*weightAge +
		f.InterestOverlap*weightInterests +
		f.Gender*weightGender +
		f.Education*weightEducation +
		f.Zodiac*weightZodiac
	return clamp(total, minAggregate, maxAggregate)
}

// DistanceKm is the great-circle distance between two users
func DistanceKm(a, b *profile.UserProfile) (float64, error) {
	if !a.HasLocation() || !b.HasLocation() {
		return 0, ErrMissingLocation
	}
	return haversineDistance(*a.Latitude, *a.Longitude, *b.Latitude, *b.Longitude), nil
}

func haversineDistance(lat1, lon1, lat2, lon2 float64) float64 {
	dLat := (lat2 - lat1) * math.Pi / 180
	dLon := (lon2 - lon1) * math.Pi / 180

	h := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1*math.Pi/180)*math.Cos(lat2*math.Pi/180)*
			math.Sin(dLon/2)*math.Sin(dLon/2)

	c := 2 * math.Atan2(math.Sqrt(h), math.Sqrt(1-h))
	return earthRadiusKm * c
}

// DistanceScore maps kilometres to [0.3, 1]: flat inside 5 km, linear decay to 50 km
func DistanceScore(km float64) float64 {
	switch {
	case km <= nearKm:
		return 1.0
	case km >= farKm:
		return farScore
	default:
		return 1 - (km-nearKm)/(farKm-nearKm)*(1-farScore)
	}
}

// AgeScore decays linearly to zero over a ten year gap
func AgeScore(a, b int) float64 {
	return math.Max(0, 1-math.Abs(float64(a-b))/ageWindow)
}

// GenderScore is 1 when either side's preference admits the other
func GenderScore(a, b *profile.UserProfile) float64 {
	if a.Accepts(b) || b.Accepts(a) {
		return 1
	}
	return 0
}

// GenderCompatible is stricter than GenderScore: both sides must admit each other
func GenderCompatible(a, b *profile.UserProfile) bool {
	return a.Accepts(b) && b.Accepts(a)
}

// EducationScore is 1 for equal, non-empty education levels
func EducationScore(a, b string) float64 {
	a, b = strings.ToLower(strings.TrimSpace(a)), strings.ToLower(strings.TrimSpace(b))
	if a != "" && a == b {
		return 1
	}
	return 0
}

// CommonInterests returns the shared interests in a's order, normalized
func CommonInterests(a, b *profile.UserProfile) []string {
	ia, ib := normalizeInterests(a.Interests), normalizeInterests(b.Interests)
	set := make(map[string]struct{}, len(ib))
	for _, v := range ib {
		set[v] = struct{}{}
	}

	common := []string{}
	for _, v := range ia {
		if _, ok := set[v]; ok {
			common = append(common, v)
		}
	}
	return common
}

func overlapScore(a, b []string) float64 {
	set := make(map[string]struct{}, len(b))
	for _, v := range b {
		set[v] = struct{}{}
	}
	common := 0
	for _, v := range a {
		if _, ok := set[v]; ok {
			common++
		}
	}
	return math.Min(1, float64(common)/interestsFull)
}

// interestSimilarity returns the cosine of the binary membership vectors and
// the min/max size ratio of the two interest sets
func interestSimilarity(a, b []string) (cosine, ratio float64) {
	if len(a) == 0 || len(b) == 0 {
		return 0, 0
	}

	set := make(map[string]struct{}, len(a))
	for _, v := range a {
		set[v] = struct{}{}
	}
	common := 0
	for _, v := range b {
		if _, ok := set[v]; ok {
			common++
		}
	}

	cosine = float64(common) / math.Sqrt(float64(len(a))*float64(len(b)))
	small, large := len(a), len(b)
	if small > large {
		small, large = large, small
	}
	ratio = float64(small) / float64(large)
	return cosine, ratio
}

// normalizeInterests lower-cases, trims and de-duplicates, keeping first-seen order
func normalizeInterests(in []string) []string {
	seen := make(map[string]struct{}, len(in))
	out := make([]string, 0, len(in))
	for _, v := range in {
		v = strings.ToLower(strings.TrimSpace(v))
		if v == "" {
			continue
		}
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	return out
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}
