package websearch

import (
	"html"
	"regexp"
	"strings"
)

// minMainContent is the amount of text a content container must hold before
// it is preferred over the whole body.
const minMainContent = 200

var (
	noiseTags = []string{"script", "style", "noscript", "iframe", "svg", "nav", "header", "footer", "aside"}

	noisePatterns = compileNoise(noiseTags)

	titlePatterns = []*regexp.Regexp{
		regexp.MustCompile(`(?is)<title[^>]*>(.*?)</title>`),
		regexp.MustCompile(`(?i)<meta[^>]*property=["']og:title["'][^>]*content=["']([^"']*)["']`),
		regexp.MustCompile(`(?is)<h1[^>]*>(.*?)</h1>`),
	}

	descriptionPatterns = []*regexp.Regexp{
		regexp.MustCompile(`(?i)<meta[^>]*name=["']description["'][^>]*content=["']([^"']*)["']`),
		regexp.MustCompile(`(?i)<meta[^>]*property=["']og:description["'][^>]*content=["']([^"']*)["']`),
	}

	containerPatterns = []*regexp.Regexp{
		regexp.MustCompile(`(?is)<main[^>]*>(.*?)</main>`),
		regexp.MustCompile(`(?is)<article[^>]*>(.*?)</article>`),
		regexp.MustCompile(`(?is)<div[^>]*id=["']main["'][^>]*>(.*)</div>`),
		regexp.MustCompile(`(?is)<div[^>]*id=["']search["'][^>]*>(.*)</div>`),
		regexp.MustCompile(`(?is)<div[^>]*role=["']main["'][^>]*>(.*?)</div>`),
	}

	bodyPattern   = regexp.MustCompile(`(?is)<body[^>]*>(.*?)</body>`)
	blockPattern  = regexp.MustCompile(`(?i)</?(?:p|div|h[1-6]|li|br|tr|section)[^>]*>`)
	tagPattern    = regexp.MustCompile(`<[^>]*>`)
	spacePattern  = regexp.MustCompile(`[^\S\n]+`)
	newlinesRegex = regexp.MustCompile(`\n{3,}`)
)

func compileNoise(tags []string) []*regexp.Regexp {
	patterns := make([]*regexp.Regexp, 0, len(tags))
	for _, tag := range tags {
		patterns = append(patterns, regexp.MustCompile(`(?is)<`+tag+`[^>]*>.*?</`+tag+`>`))
	}
	return patterns
}

// ContentExtractor turns an HTML page into readable text.
type ContentExtractor struct{}

// NewContentExtractor creates a new content extractor.
func NewContentExtractor() *ContentExtractor {
	return &ContentExtractor{}
}

// ExtractReadable implements a simplified readability pass: drop noise
// elements, take the title and description, then the main container or the
// body as plain text.
func (e *ContentExtractor) ExtractReadable(page string) string {
	for _, re := range noisePatterns {
		page = re.ReplaceAllString(page, "")
	}

	title := e.firstMatch(page, titlePatterns)
	description := e.firstMatch(page, descriptionPatterns)

	content := e.extractMainContent(page)
	if content == "" {
		content = e.extractFromBody(page)
	}
	if content == "" && !strings.Contains(page, "<") {
		content = page
	}
	content = e.cleanText(content)

	var result strings.Builder
	if title != "" {
		result.WriteString("Title: ")
		result.WriteString(title)
		result.WriteString("\n\n")
	}
	if description != "" {
		result.WriteString("Description: ")
		result.WriteString(description)
		result.WriteString("\n\n")
	}
	result.WriteString(content)

	return strings.TrimSpace(result.String())
}

func (e *ContentExtractor) firstMatch(page string, patterns []*regexp.Regexp) string {
	for _, re := range patterns {
		if m := re.FindStringSubmatch(page); len(m) > 1 {
			if text := e.cleanText(e.extractText(m[1])); text != "" {
				return text
			}
		}
	}
	return ""
}

func (e *ContentExtractor) extractMainContent(page string) string {
	for _, re := range containerPatterns {
		m := re.FindStringSubmatch(page)
		if len(m) < 2 {
			continue
		}
		text := e.extractText(m[1])
		if len(strings.TrimSpace(text)) > minMainContent {
			return text
		}
	}
	return ""
}

func (e *ContentExtractor) extractFromBody(page string) string {
	if m := bodyPattern.FindStringSubmatch(page); len(m) > 1 {
		return e.extractText(m[1])
	}
	return ""
}

// extractText strips tags, keeping block boundaries as newlines.
func (e *ContentExtractor) extractText(fragment string) string {
	fragment = blockPattern.ReplaceAllString(fragment, "\n")
	return tagPattern.ReplaceAllString(fragment, "")
}

func (e *ContentExtractor) cleanText(text string) string {
	text = html.UnescapeString(text)

	lines := strings.Split(text, "\n")
	for i, line := range lines {
		lines[i] = strings.TrimSpace(spacePattern.ReplaceAllString(line, " "))
	}
	text = strings.Join(lines, "\n")

	text = newlinesRegex.ReplaceAllString(text, "\n\n")
	return strings.TrimSpace(text)
}
