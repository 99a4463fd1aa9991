package extractor

import (
	"strings"

	"github.com/rcliao/companion-memory/internal/model"
)

// personalKeyRules map predicate substrings to the fixed profile keys.
// Order matters: the first matching rule wins.
var personalKeyRules = []struct {
	key        string
	substrings []string
}{
	{"name", []string{"名字", "叫", "name"}},
	{"gender", []string{"性别", "gender"}},
	{"age", []string{"年龄", "岁", "age"}},
	{"birthday", []string{"生日", "birthday"}},
	{"occupation", []string{"职业", "工作", "occupation", "job"}},
	{"location", []string{"住", "城市", "location", "live"}},
}

// dislikeMarkers distinguish a dislike from a like within preference
// facts.
var dislikeMarkers = []string{"不喜欢", "讨厌", "dislike", "hate"}

// ProjectFact maps a fact onto its canonical profile key. Event and
// routine facts are not projected; they are too time-variant for a
// stable profile.
func ProjectFact(f model.Fact) (key, value string, ok bool) {
	switch f.Type {
	case model.FactPersonal:
		pred := strings.ToLower(f.Predicate)
		for _, rule := range personalKeyRules {
			for _, sub := range rule.substrings {
				if strings.Contains(pred, sub) {
					return rule.key, f.Object, true
				}
			}
		}
		return "personal." + f.Predicate, f.Object, true

	case model.FactPreference:
		pred := strings.ToLower(f.Predicate)
		for _, marker := range dislikeMarkers {
			if strings.Contains(pred, marker) {
				return "dislike." + f.Object, f.Object, true
			}
		}
		return "like." + f.Object, f.Object, true

	case model.FactRelationship:
		return "relationship." + f.Predicate, f.Object, true

	default:
		return "", "", false
	}
}
