package toolkit

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"

	"github.com/google/uuid"
)

const (
	// DefaultSpillLimit is the result size above which output goes to a file.
	DefaultSpillLimit = 32 * 1024
	previewBytes      = 1500
)

var unsafeName = regexp.MustCompile(`[^A-Za-z0-9_.-]+`)

// Spiller writes oversized results to Dir and hands back a pointer the model can follow.
type Spiller struct {
	Dir   string
	Limit int
}

// Fit returns text unchanged when it is within the limit. Otherwise the full text lands in
// a new file under Dir and the returned string names the file, its size and a preview.
func (s Spiller) Fit(label, text string) (string, error) {
	limit := s.Limit
	if limit <= 0 {
		limit = DefaultSpillLimit
	}
	if len(text) <= limit {
		return text, nil
	}

	if err := os.MkdirAll(s.Dir, 0o755); err != nil {
		return "", fmt.Errorf("create spill dir: %w", err)
	}
	name := fmt.Sprintf("%s-%s.txt", unsafeName.ReplaceAllString(label, "_"), uuid.NewString()[:8])
	path := filepath.Join(s.Dir, name)
	if err := os.WriteFile(path, []byte(text), 0o644); err != nil {
		return "", fmt.Errorf("write spill file: %w", err)
	}

	return fmt.Sprintf("Result too large to inline (%d bytes); full output saved to %s\nUse read_file with offset/limit to page through it.\n\nPreview:\n%s",
		len(text), path, Preview(text, previewBytes)), nil
}

// Preview cuts text to at most n bytes without splitting a UTF-8 sequence.
func Preview(text string, n int) string {
	if len(text) <= n {
		return text
	}
	cut := n
	for cut > 0 && !utf8Start(text[cut]) {
		cut--
	}
	return text[:cut] + "\n..."
}

func utf8Start(b byte) bool { return b&0xC0 != 0x80 }
