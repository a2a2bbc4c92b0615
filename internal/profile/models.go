// internal/profile/models.go

package profile

import (
	"errors"
	"strings"
)

var (
	ErrUserNotFound = errors.New("user not found")
)

// UserProfile is the read model of a user as the matcher sees it.
// Liked, LikedBy and Matched are derived from the like and match-edge tables.
type UserProfile struct {
	ID               int64    `json:"id"`
	Age              int      `json:"age"`
	Gender           string   `json:"gender"`
	GenderPreference string   `json:"gender_preference"`
	Latitude         *float64 `json:"latitude,omitempty"`
	Longitude        *float64 `json:"longitude,omitempty"`
	Interests        []string `json:"interests"`
	Education        string   `json:"education,omitempty"`
	ZodiacSign       string   `json:"zodiac_sign,omitempty"`
	Bio              string   `json:"bio,omitempty"`
	IsOnline         bool     `json:"is_online"`

	Liked   []int64 `json:"liked"`
	LikedBy []int64 `json:"liked_by"`
	Matched []int64 `json:"matched"`
}

// HasLocation reports whether both coordinates are present
func (p *UserProfile) HasLocation() bool {
	return p.Latitude != nil && p.Longitude != nil
}

// Accepts reports whether p's gender preference admits other
func (p *UserProfile) Accepts(other *UserProfile) bool {
	pref := strings.ToLower(strings.TrimSpace(p.GenderPreference))
	return pref == "both" || (pref != "" && pref == strings.ToLower(strings.TrimSpace(other.Gender)))
}

// HasLiked reports whether p has liked id
func (p *UserProfile) HasLiked(id int64) bool {
	return containsID(p.Liked, id)
}

// IsLikedBy reports whether id has liked p
func (p *UserProfile) IsLikedBy(id int64) bool {
	return containsID(p.LikedBy, id)
}

// IsMatchedWith reports whether p and id share a match edge
func (p *UserProfile) IsMatchedWith(id int64) bool {
	return containsID(p.Matched, id)
}

func containsID(ids []int64, id int64) bool {
	for _, v := range ids {
		if v == id {
			return true
		}
	}
	return false
}

// LikeOutcome describes what a like changed
type LikeOutcome struct {
	Created      bool `json:"created"`       // first time this directed like was recorded
	Mutual       bool `json:"mutual"`        // the target had already liked the liker
	MatchCreated bool `json:"match_created"` // a new match edge was written
}

// Relationship is the directed view of a pair from A's side
type Relationship struct {
	Liked     bool `db:"liked"`      // A liked B
	Rejected  bool `db:"rejected"`   // B rejected A's like
	LikedBack bool `db:"liked_back"` // B liked A
	Matched   bool `db:"matched"`
}

// CanonicalPair orders two ids so a match edge has exactly one representation
func CanonicalPair(a, b int64) (lower, higher int64) {
	if a < b {
		return a, b
	}
	return b, a
}
