package usecase

import (
	"reflect"
	"testing"
)

func TestKeywordTermsStripsStopwordsAcrossLanguages(t *testing.T) {
	cases := []struct {
		query string
		want  []string
	}{
		{"What is the penalty for theft under Article 5?", []string{"penalty", "theft", "article", "5"}},
		{"Quelle est la peine pour le vol ?", []string{"peine", "vol"}},
		{"ما هي عقوبة السرقة في المادة 5", []string{"عقوبة", "السرقة", "المادة", "5"}},
		{"the THE The", []string{}},
	}
	for _, tc := range cases {
		got := keywordTerms(tc.query)
		if !reflect.DeepEqual(got, tc.want) {
			t.Fatalf("keywordTerms(%q) = %v, want %v", tc.query, got, tc.want)
		}
	}
}
