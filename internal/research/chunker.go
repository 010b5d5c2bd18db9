package research

import (
	"regexp"
	"strings"
)

// LoreChunk is one `## [PAGE_TYPE] Title` section of the harvested raw
// content, the unit indexed into the lore collection.
type LoreChunk struct {
	PageType string // lowercase: character, technique, location, faction, arc, worldbuilding
	Title    string
	Text     string
}

var sectionHeader = regexp.MustCompile(`(?m)^## \[([A-Z_]+)\] (.+)$`)

// maxChunkRunes splits oversized sections so a single sprawling wiki page
// doesn't blow the embedding input limit.
const maxChunkRunes = 6000

// ChunkRawContent splits raw content on its section headers. Content
// before the first header is dropped (there should be none); oversized
// sections are split on paragraph boundaries with the title retained.
func ChunkRawContent(raw string) []LoreChunk {
	matches := sectionHeader.FindAllStringSubmatchIndex(raw, -1)
	var out []LoreChunk
	for i, m := range matches {
		pageType := strings.ToLower(raw[m[2]:m[3]])
		title := strings.TrimSpace(raw[m[4]:m[5]])
		end := len(raw)
		if i+1 < len(matches) {
			end = matches[i+1][0]
		}
		text := strings.TrimSpace(raw[m[1]:end])
		if text == "" {
			continue
		}
		for part, piece := range splitLong(text) {
			c := LoreChunk{PageType: pageType, Title: title, Text: piece}
			if part > 0 {
				c.Title = title + " (cont.)"
			}
			out = append(out, c)
		}
	}
	return out
}

// splitLong breaks text into pieces under maxChunkRunes on paragraph
// boundaries.
func splitLong(text string) []string {
	if len([]rune(text)) <= maxChunkRunes {
		return []string{text}
	}
	paragraphs := strings.Split(text, "\n\n")
	var (
		out []string
		cur strings.Builder
	)
	flush := func() {
		if s := strings.TrimSpace(cur.String()); s != "" {
			out = append(out, s)
		}
		cur.Reset()
	}
	for _, para := range paragraphs {
		if cur.Len() > 0 && len([]rune(cur.String()))+len([]rune(para)) > maxChunkRunes {
			flush()
		}
		cur.WriteString(para)
		cur.WriteString("\n\n")
	}
	flush()
	return out
}

// sectionExcerpt concatenates the text of chunks matching pageType (empty
// matches all) up to roughly maxRunes, preferring whole sections.
func sectionExcerpt(chunks []LoreChunk, pageType string, maxRunes int) string {
	var b strings.Builder
	for _, c := range chunks {
		if pageType != "" && c.PageType != pageType {
			continue
		}
		if b.Len()+len(c.Text) > maxRunes && b.Len() > 0 {
			break
		}
		b.WriteString("### ")
		b.WriteString(c.Title)
		b.WriteString("\n")
		if len(c.Text) > maxRunes {
			b.WriteString(string([]rune(c.Text)[:maxRunes]))
		} else {
			b.WriteString(c.Text)
		}
		b.WriteString("\n\n")
		if b.Len() >= maxRunes {
			break
		}
	}
	return strings.TrimSpace(b.String())
}
