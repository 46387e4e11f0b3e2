package database

import (
	"errors"
	"fmt"
	"strings"
	"unicode"
)

// ErrNotReadOnly is wrapped by every guard rejection.
var ErrNotReadOnly = errors.New("only single read-only SELECT statements are allowed")

var mutating = map[string]bool{
	"INSERT": true, "UPDATE": true, "DELETE": true, "DROP": true, "CREATE": true,
	"ALTER": true, "ATTACH": true, "DETACH": true, "PRAGMA": true, "VACUUM": true,
	"REINDEX": true, "TRUNCATE": true, "UPSERT": true, "SAVEPOINT": true, "BEGIN": true,
	"COMMIT": true, "ROLLBACK": true,
}

// CheckReadOnly accepts one SELECT (or WITH ... SELECT) statement. Comments and quoted
// text are ignored when scanning for keywords, so WHERE name = 'DELETE' passes.
func CheckReadOnly(query string) error {
	words, stmts, err := scan(query)
	if err != nil {
		return err
	}
	if stmts > 1 {
		return fmt.Errorf("%w: found %d statements", ErrNotReadOnly, stmts)
	}
	if len(words) == 0 {
		return fmt.Errorf("%w: empty query", ErrNotReadOnly)
	}
	if words[0] != "SELECT" && words[0] != "WITH" {
		return fmt.Errorf("%w: query starts with %s", ErrNotReadOnly, words[0])
	}
	for _, w := range words {
		if mutating[w] {
			return fmt.Errorf("%w: %s is not permitted", ErrNotReadOnly, w)
		}
	}
	return nil
}

// scan returns the upper-cased bare words of query and the number of non-empty statements.
func scan(query string) ([]string, int, error) {
	var words []string
	stmts := 0
	pending := false // current statement has content
	var word strings.Builder

	flush := func() {
		if word.Len() > 0 {
			words = append(words, strings.ToUpper(word.String()))
			word.Reset()
		}
	}

	rs := []rune(query)
	for i := 0; i < len(rs); i++ {
		r := rs[i]
		switch {
		case r == '-' && i+1 < len(rs) && rs[i+1] == '-':
			flush()
			for i < len(rs) && rs[i] != '\n' {
				i++
			}
		case r == '/' && i+1 < len(rs) && rs[i+1] == '*':
			flush()
			j := i + 2
			for ; j+1 < len(rs) && !(rs[j] == '*' && rs[j+1] == '/'); j++ {
			}
			if j+1 >= len(rs) {
				return nil, 0, fmt.Errorf("%w: unterminated comment", ErrNotReadOnly)
			}
			i = j + 1
		case r == '\'' || r == '"' || r == '`' || r == '[':
			flush()
			closer := r
			if r == '[' {
				closer = ']'
			}
			j := i + 1
			for ; j < len(rs); j++ {
				if rs[j] == closer {
					if closer != ']' && j+1 < len(rs) && rs[j+1] == closer {
						j++ // doubled quote
						continue
					}
					break
				}
			}
			if j >= len(rs) {
				return nil, 0, fmt.Errorf("%w: unterminated quote", ErrNotReadOnly)
			}
			i = j
			pending = true
		case r == ';':
			flush()
			if pending {
				stmts++
				pending = false
			}
		case unicode.IsLetter(r) || r == '_' || (word.Len() > 0 && unicode.IsDigit(r)):
			word.WriteRune(r)
			pending = true
		default:
			flush()
			if !unicode.IsSpace(r) {
				pending = true
			}
		}
	}
	flush()
	if pending {
		stmts++
	}
	return words, stmts, nil
}
