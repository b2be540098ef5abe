package llmparse

func buildParsePrompt(text, name string) string {
	const maxSnippet = 8000
	snippet := text
	if len(snippet) > maxSnippet {
		snippet = snippet[:maxSnippet]
	}

	return `You are a document parser preparing content for publication.
Return a strict JSON object with keys:
title (string), body (string, cleaned article text), summary (string, 2-3 sentences), keywords (array of strings).
No markdown, no extra keys.

Source file name: ` + name + `

Document:
` + snippet
}
