package main

import "github.com/Amicidal/sigmachad-sub002/internal/astparse"

// languageParsers builds the extension-to-parser table the coordinator
// dispatches on, one constructed LanguageParser per supported language.
func languageParsers() map[string]astparse.LanguageParser {
	parsers := map[string]astparse.LanguageParser{}
	for _, p := range []astparse.LanguageParser{
		astparse.NewGoParser(),
		astparse.NewPythonParser(),
		astparse.NewTypeScriptParser(),
		astparse.NewRustParser(),
		astparse.NewJavaScriptParser(),
	} {
		for _, ext := range p.SupportedExtensions() {
			parsers[ext] = p
		}
	}
	return parsers
}
