package usecase

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

var stopwords = buildStopwords(
	// en
	"a an and are as at be but by can could did do does for from had has have how i if in into is it its "+
		"may me must my no not of on or our shall should so than that the their them then there these they "+
		"this those to under up upon us was we were what when where which who whom why will with would you your "+
		"about any also been being between both each other over such only own same very just",
	// fr
	"au aux avec ce ces cette dans de des du elle en est et il ils je la le les leur lui ma mais me mes "+
		"moi mon ne nos notre nous on ou où par pas pour qu que quel quelle quels qui sa se ses son sont sur "+
		"ta te tes toi ton tu un une vos votre vous est-ce comment quoi quand être avoir fait peut",
	// ar
	"في من على إلى عن مع هذا هذه ذلك تلك التي الذي الذين هو هي هم ما ماذا متى أين كيف لماذا هل أو ثم "+
		"قد لا لم لن إن أن كان كانت يكون عند بين كل أي بعد قبل حتى إذا",
)

func buildStopwords(lists ...string) map[string]struct{} {
	out := make(map[string]struct{}, 256)
	for _, list := range lists {
		for _, w := range strings.Fields(list) {
			out[w] = struct{}{}
		}
	}
	return out
}

// splitTokens lowercases s and splits it on anything that is not a letter or a digit.
func splitTokens(s string) []string {
	if s == "" {
		return nil
	}
	tokens := make([]string, 0, 16)
	var b strings.Builder
	flush := func() {
		if b.Len() > 0 {
			tokens = append(tokens, b.String())
			b.Reset()
		}
	}
	for _, r := range s {
		if unicode.IsLetter(r) || unicode.IsDigit(r) || unicode.Is(unicode.Mn, r) {
			b.WriteRune(unicode.ToLower(r))
			continue
		}
		flush()
	}
	flush()
	return tokens
}

// keywordTerms returns the distinct content words of a query in order of first appearance.
// Numbers are always kept because article and case numbers are the typical reason to fall back.
func keywordTerms(query string) []string {
	tokens := splitTokens(query)
	seen := make(map[string]struct{}, len(tokens))
	out := make([]string, 0, len(tokens))
	for _, token := range tokens {
		if _, ok := seen[token]; ok {
			continue
		}
		if _, stop := stopwords[token]; stop {
			continue
		}
		if utf8.RuneCountInString(token) < 3 && !isNumeric(token) {
			continue
		}
		seen[token] = struct{}{}
		out = append(out, token)
	}
	return out
}

func isNumeric(s string) bool {
	for _, r := range s {
		if !unicode.IsDigit(r) {
			return false
		}
	}
	return s != ""
}

func toTokenSet(s string) map[string]struct{} {
	tokens := splitTokens(s)
	out := make(map[string]struct{}, len(tokens))
	for _, token := range tokens {
		out[token] = struct{}{}
	}
	return out
}
