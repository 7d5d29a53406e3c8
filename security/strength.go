package security

import (
	"strings"
	"unicode"
	"unicode/utf8"

	console "github.com/chimerakang/hrconsole-go"
)

// Strength rates a candidate password for display.
type Strength struct {
	Score int
	Level string
}

var strengthLevels = []string{"Very Weak", "Weak", "Fair", "Good", "Strong"}

// passwordSpecials are the symbols the server's password policy counts as special.
const passwordSpecials = "@$!%*?&"

// PasswordStrength scores one point each for minimum length, an upper-case
// letter, a lower-case letter, a digit and a special character.
func PasswordStrength(pw string) Strength {
	score := 0
	if utf8.RuneCountInString(pw) >= console.MinPasswordLength {
		score++
	}
	if strings.IndexFunc(pw, func(r rune) bool { return r >= 'A' && r <= 'Z' }) >= 0 {
		score++
	}
	if strings.IndexFunc(pw, func(r rune) bool { return r >= 'a' && r <= 'z' }) >= 0 {
		score++
	}
	if strings.IndexFunc(pw, func(r rune) bool { return r < unicode.MaxASCII && unicode.IsDigit(r) }) >= 0 {
		score++
	}
	if strings.ContainsAny(pw, passwordSpecials) {
		score++
	}

	level := strengthLevels[len(strengthLevels)-1]
	if score < len(strengthLevels) {
		level = strengthLevels[score]
	}
	return Strength{Score: score, Level: level}
}
