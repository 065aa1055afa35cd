package seed

import (
	"context"
	"fmt"
	"strings"
	"unicode"

	"go.uber.org/zap"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"

	"github.com/eugenenazirov/peerconf/internal/scripts"
	"github.com/eugenenazirov/peerconf/internal/storage"
)

// Color is one entry of the tag color palette.
type Color struct {
	Hex   string
	Label string
}

// Palette lists the colors a tag may use.
var Palette = []Color{
	{"aa1409", "Dark red"},
	{"f44336", "Red"},
	{"e91e63", "Pink"},
	{"ffe4e1", "Rose"},
	{"ff66ff", "Fuchsia"},
	{"9c27b0", "Purple"},
	{"673ab7", "Dark purple"},
	{"3f51b5", "Indigo"},
	{"2196f3", "Blue"},
	{"03a9f4", "Light blue"},
	{"00bcd4", "Cyan"},
	{"009688", "Teal"},
	{"00ffff", "Aqua"},
	{"2f6a31", "Dark green"},
	{"4caf50", "Green"},
	{"8bc34a", "Light green"},
	{"cddc39", "Lime"},
	{"ffeb3b", "Yellow"},
	{"ffc107", "Amber"},
	{"ff9800", "Orange"},
	{"ff5722", "Dark orange"},
	{"795548", "Brown"},
	{"c0c0c0", "Light grey"},
	{"9e9e9e", "Grey"},
	{"607d8b", "Dark grey"},
	{"111111", "Black"},
	{"ffffff", "White"},
}

// LookupColor matches value against the hex code or label of a palette
// color, ignoring case and a leading '#'.
func LookupColor(value string) (string, bool) {
	value = strings.TrimPrefix(strings.TrimSpace(value), "#")
	for _, c := range Palette {
		if strings.EqualFold(value, c.Hex) || strings.EqualFold(value, c.Label) {
			return c.Hex, true
		}
	}
	return "", false
}

type tagParams struct {
	Name     string `yaml:"name"`
	Slug     string `yaml:"slug"`
	Color    string `yaml:"color"`
	Comments string `yaml:"comments"`
}

// Tags creates missing tags. Colors outside the palette are dropped.
func (s *Seeder) Tags(ctx context.Context, unit *scripts.Unit) error {
	if unit.Empty() {
		return scripts.Exit(0)
	}
	var tags []tagParams
	if err := unit.Decode(&tags); err != nil {
		return err
	}

	for _, params := range tags {
		tag := storage.Tag{
			Name:     params.Name,
			Slug:     params.Slug,
			Comments: params.Comments,
		}
		if tag.Slug == "" {
			tag.Slug = Slugify(tag.Name)
		}
		if params.Color != "" {
			hex, ok := LookupColor(params.Color)
			if !ok {
				s.logger.Warn("ignoring unknown tag color", zap.String("tag", params.Name), zap.String("color", params.Color))
			}
			tag.Color = hex
		}

		created, isNew, err := s.store.GetOrCreateTag(ctx, tag)
		if err != nil {
			return fmt.Errorf("create tag %q: %w", params.Name, err)
		}
		if isNew {
			s.logger.Info("created tag", zap.String("tag", created.Name), zap.String("slug", created.Slug))
		}
	}
	return nil
}

// Slugify lowercases name, strips accents and joins the remaining letters and
// digits with hyphens.
func Slugify(name string) string {
	t := transform.Chain(norm.NFKD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	folded, _, err := transform.String(t, name)
	if err != nil {
		folded = name
	}
	folded = cases.Lower(language.Und).String(folded)

	var b strings.Builder
	hyphen := false
	for _, r := range folded {
		switch {
		case r < unicode.MaxASCII && (unicode.IsLetter(r) || unicode.IsDigit(r)):
			b.WriteRune(r)
			hyphen = false
		case r == '_':
			b.WriteRune(r)
			hyphen = false
		case b.Len() > 0 && !hyphen:
			b.WriteByte('-')
			hyphen = true
		}
	}
	return strings.TrimSuffix(b.String(), "-")
}
