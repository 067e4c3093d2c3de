package docparse

import "strings"

func (p *Parser) parseText(content []byte) (DocumentMetadata, error) {
	text := strings.TrimSpace(string(content))
	md := DocumentMetadata{}

	// First non-empty line serves as the title.
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		if line != "" {
			md.Title = truncate(line, 200)
			break
		}
	}
	md.Summary = truncate(text, 500)

	p.fillTextExtracts(&md, text)
	return md, nil
}
