package platform

import (
	"strings"

	htmltomarkdown "github.com/JohannesKaufmann/html-to-markdown/v2"
)

// ExtractText converts a post body to plain readable text.
// Rich bodies (links, mentions, line breaks) go through Markdown so the
// classifier sees the same words a reader does.
func ExtractText(htmlContent string) (string, error) {
	if strings.TrimSpace(htmlContent) == "" {
		return "", nil
	}

	markdown, err := htmltomarkdown.ConvertString(htmlContent)
	if err != nil {
		return "", err
	}

	return strings.TrimSpace(markdown), nil
}
