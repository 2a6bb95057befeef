package typemap

import (
	"strconv"
	"strings"
)

type nativeTokens struct {
	base     string
	size     int
	scale    int
	hasSize  bool
	unsigned bool
}

// scan splits a native type into its base keyword, an optional numeric
// (size[,scale]) argument list and the unsigned flag. Argument lists that are
// not numeric, like enum members, are skipped. It reports false when the
// string has no leading keyword or an unterminated argument list.
func scan(nativeType string) (nativeTokens, bool) {
	s := strings.ToLower(strings.TrimSpace(nativeType))

	i := 0
	for i < len(s) && s[i] >= 'a' && s[i] <= 'z' {
		i++
	}
	if i == 0 {
		return nativeTokens{}, false
	}
	t := nativeTokens{base: s[:i]}

	rest := strings.TrimLeft(s[i:], " \t")
	if strings.HasPrefix(rest, "(") {
		end := closingParen(rest)
		if end < 0 {
			return nativeTokens{}, false
		}
		t.size, t.scale, t.hasSize = numericArgs(rest[1:end])
	}

	t.unsigned = strings.Contains(s, "unsigned")
	return t, true
}

// closingParen returns the index of the parenthesis closing s[0], ignoring
// parentheses inside single-quoted literals.
func closingParen(s string) int {
	quoted := false
	for i := 1; i < len(s); i++ {
		switch s[i] {
		case '\\':
			if quoted {
				i++
			}
		case '\'':
			quoted = !quoted
		case ')':
			if !quoted {
				return i
			}
		}
	}
	return -1
}

func numericArgs(args string) (size, scale int, ok bool) {
	parts := strings.Split(args, ",")
	if len(parts) > 2 {
		return 0, 0, false
	}
	values := make([]int, len(parts))
	for i, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" || strings.Trim(p, "0123456789") != "" {
			return 0, 0, false
		}
		n, err := strconv.Atoi(p)
		if err != nil {
			return 0, 0, false
		}
		values[i] = n
	}
	size = values[0]
	if len(values) == 2 {
		scale = values[1]
	}
	return size, scale, true
}
